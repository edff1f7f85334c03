package auth

import (
	"context"
	"net/http"
	"strings"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	"github.com/NordCoder/Turnstile/internal/httpx"
)

type ctxKey int

const claimsKey ctxKey = 1

// ClaimsFromCtx returns the verified access claims put there by RequireBearer.
func ClaimsFromCtx(ctx context.Context) (*creds.AccessClaims, int64, bool) {
	cl, ok := ctx.Value(claimsKey).(*creds.AccessClaims)
	if !ok {
		return nil, 0, false
	}
	id, err := cl.UserID()
	if err != nil {
		return nil, 0, false
	}
	return cl, id, true
}

func WithClaims(ctx context.Context, cl *creds.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsKey, cl)
}

// RequireBearer admits requests carrying a valid access credential in the
// Authorization header or the access cookie.
func RequireBearer(parse func(token string) (*creds.AccessClaims, error), next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearer(r)
		if token == "" {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		cl, err := parse(token)
		if err != nil {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), cl)))
	})
}

func bearer(r *http.Request) string {
	if v := r.Header.Get("Authorization"); v != "" {
		if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
			return strings.TrimSpace(v[7:])
		}
		return ""
	}
	return cookieValue(r, AccessCookie)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
