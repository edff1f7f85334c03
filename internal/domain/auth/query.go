package auth

import (
	"fmt"
	"strings"
)

type SessionFilter int

const (
	FilterActive SessionFilter = iota
	FilterRevoked
	FilterAll
)

type SessionSort int

const (
	SortCreatedDesc SessionSort = iota
	SortCreatedAsc
	SortExpiresAsc
)

type SessionQuery struct {
	Filter SessionFilter
	Sort   SessionSort
	Limit  int
}

var sessionFilters = map[string]SessionFilter{
	"":        FilterActive,
	"active":  FilterActive,
	"revoked": FilterRevoked,
	"all":     FilterAll,
}

var sessionSorts = map[string]SessionSort{
	"":            SortCreatedDesc,
	"-created_at": SortCreatedDesc,
	"created_at":  SortCreatedAsc,
	"expires_at":  SortExpiresAsc,
}

// ParseSessionQuery maps the raw status and sort keys onto the closed set the
// repositories understand. Unknown keys are rejected.
func ParseSessionQuery(status, sort string) (SessionQuery, error) {
	f, ok := sessionFilters[strings.TrimSpace(status)]
	if !ok {
		return SessionQuery{}, fmt.Errorf("unknown status filter %q", status)
	}
	s, ok := sessionSorts[strings.TrimSpace(sort)]
	if !ok {
		return SessionQuery{}, fmt.Errorf("unknown sort key %q", sort)
	}
	return SessionQuery{Filter: f, Sort: s, Limit: 100}, nil
}
