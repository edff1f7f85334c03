package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := NewFake(start)
	require.Equal(t, start, f.Now())

	f.Advance(90 * time.Second)
	require.Equal(t, start.Add(90*time.Second), f.Now())

	f.Set(start)
	require.Equal(t, start, f.Now())
}

func TestRealIsUTC(t *testing.T) {
	require.Equal(t, time.UTC, Real().Now().Location())
}
