package auth

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
	"github.com/NordCoder/Turnstile/internal/domain/user"
	"github.com/NordCoder/Turnstile/internal/httpx"
	"github.com/NordCoder/Turnstile/internal/obs"
)

const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
	CSRFCookie    = "csrf_token"
	CSRFHeader    = "X-CSRF-Token"

	refreshCookiePath = "/v1/auth"
)

type CookieConfig struct {
	Domain string
	Secure bool
}

type Controller struct {
	log     *zap.Logger
	uc      *Usecase
	cookies CookieConfig
	now     func() time.Time
}

func NewController(uc *Usecase, cookies CookieConfig, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		log:     log.With(zap.String("component", "auth.http")),
		uc:      uc,
		cookies: cookies,
		now:     uc.clk.Now,
	}
}

// Register mounts the session routes. Sign-in and refresh share limiter.
func (c *Controller) Register(mux *http.ServeMux, limiter *httpx.RateLimiter) {
	limited := func(h http.HandlerFunc) http.Handler {
		if limiter == nil {
			return h
		}
		return limiter.Wrap(h)
	}
	authed := func(h http.HandlerFunc) http.Handler { return RequireBearer(c.uc.ParseAccess, h) }

	mux.Handle("POST /v1/auth/sign-in", limited(c.SignIn))
	mux.Handle("POST /v1/auth/refresh", limited(c.Refresh))
	mux.HandleFunc("POST /v1/auth/logout", c.Logout)
	mux.Handle("POST /v1/auth/logout-all", authed(c.LogoutAll))
	mux.Handle("GET /v1/auth/me", authed(c.Me))
	mux.Handle("GET /v1/auth/context", authed(c.Context))
	mux.Handle("GET /v1/auth/sessions", authed(c.Sessions))
	mux.Handle("POST /v1/auth/password", authed(c.ChangePassword))
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userDTO struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	PersonID  *int64    `json:"person_id,omitempty"`
	FullName  string    `json:"full_name"`
	CreatedAt time.Time `json:"created_at"`
}

type sessionResponse struct {
	User            *userDTO  `json:"user,omitempty"`
	AccessExpiresAt time.Time `json:"access_expires_at"`
}

func (c *Controller) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	u, sess, err := c.uc.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	c.setSession(w, sess)
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{User: toUserDTO(u), AccessExpiresAt: sess.AccessExpiresAt})
}

// Refresh checks the anti-forgery pair before the renewal credential is read.
func (c *Controller) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := creds.VerifyDoubleSubmit(cookieValue(r, CSRFCookie), r.Header.Get(CSRFHeader)); err != nil {
		c.fail(w, r, err)
		return
	}
	raw := cookieValue(r, RefreshCookie)
	if raw == "" {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	sess, err := c.uc.Refresh(r.Context(), raw)
	if err != nil {
		// on other failures the presented credential is still good
		if domainauth.IsCredentialFailure(err) {
			c.clearSession(w)
		}
		c.fail(w, r, err)
		return
	}
	c.clearSession(w)
	c.setSession(w, sess)
	httpx.WriteJSON(w, http.StatusOK, sessionResponse{AccessExpiresAt: sess.AccessExpiresAt})
}

func (c *Controller) Logout(w http.ResponseWriter, r *http.Request) {
	if raw := cookieValue(r, RefreshCookie); raw != "" {
		if err := c.uc.Logout(r.Context(), raw); err != nil {
			c.fail(w, r, err)
			return
		}
	}
	c.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) LogoutAll(w http.ResponseWriter, r *http.Request) {
	_, id, _ := ClaimsFromCtx(r.Context())
	n, err := c.uc.LogoutAll(r.Context(), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	c.clearSession(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"revoked": n})
}

func (c *Controller) Me(w http.ResponseWriter, r *http.Request) {
	cl, id, _ := ClaimsFromCtx(r.Context())
	u, err := c.uc.Me(r.Context(), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"user":       toUserDTO(u),
		"roles":      cl.Roles,
		"expires_at": cl.ExpiresAt.Time,
	})
}

func (c *Controller) Context(w http.ResponseWriter, r *http.Request) {
	_, id, _ := ClaimsFromCtx(r.Context())
	actx, err := c.uc.Context(r.Context(), id)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, actx)
}

type sessionDTO struct {
	ID            int64      `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	Revoked       bool       `json:"revoked"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	RevokedReason string     `json:"revoked_reason,omitempty"`
	Rotated       bool       `json:"rotated"`
}

func (c *Controller) Sessions(w http.ResponseWriter, r *http.Request) {
	q, err := domainauth.ParseSessionQuery(r.URL.Query().Get("status"), r.URL.Query().Get("sort"))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, id, _ := ClaimsFromCtx(r.Context())
	rows, err := c.uc.Sessions(r.Context(), id, q)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	out := make([]sessionDTO, 0, len(rows))
	for _, t := range rows {
		out = append(out, sessionDTO{
			ID:            t.ID,
			CreatedAt:     t.CreatedAt,
			ExpiresAt:     t.ExpiresAt,
			Revoked:       t.Revoked,
			RevokedAt:     t.RevokedAt,
			RevokedReason: string(t.RevokedReason),
			Rotated:       t.SuccessorHash != nil,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	New     string `json:"new_password"`
}

func (c *Controller) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, id, _ := ClaimsFromCtx(r.Context())
	if err := c.uc.ChangePassword(r.Context(), id, req.Current, req.New); err != nil {
		c.fail(w, r, err)
		return
	}
	c.clearSession(w)
	w.WriteHeader(http.StatusNoContent)
}

// fail maps err onto the wire. Credential failures are never distinguished
// to the caller.
func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := obs.WithTrace(r.Context(), c.log)
	switch {
	case errors.Is(err, domainauth.ErrAntiForgery):
		log.Info("anti-forgery check failed", zap.String("path", r.URL.Path))
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
	case domainauth.IsCredentialFailure(err),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, authz.ErrInactivePrincipal):
		log.Info("credential rejected", zap.String("path", r.URL.Path), zap.Error(err))
		httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrWeakPassword):
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domainauth.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not found")
	default:
		log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (c *Controller) setSession(w http.ResponseWriter, s domainauth.Session) {
	now := c.now()
	http.SetCookie(w, c.cookie(AccessCookie, s.AccessToken, "/", true, s.AccessExpiresAt, now))
	http.SetCookie(w, c.cookie(RefreshCookie, s.RefreshToken, refreshCookiePath, true, s.RefreshExpiresAt, now))
	http.SetCookie(w, c.cookie(CSRFCookie, s.CSRFToken, "/", false, s.RefreshExpiresAt, now))
}

func (c *Controller) clearSession(w http.ResponseWriter) {
	for _, k := range []struct {
		name, path string
		httpOnly   bool
	}{
		{AccessCookie, "/", true},
		{RefreshCookie, refreshCookiePath, true},
		{CSRFCookie, "/", false},
	} {
		http.SetCookie(w, &http.Cookie{
			Name:     k.name,
			Value:    "",
			Path:     k.path,
			Domain:   c.cookies.Domain,
			HttpOnly: k.httpOnly,
			Secure:   c.cookies.Secure,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   -1,
			Expires:  time.Unix(0, 0).UTC(),
		})
	}
}

func (c *Controller) cookie(name, value, path string, httpOnly bool, expires, now time.Time) *http.Cookie {
	maxAge := int(expires.Sub(now).Seconds())
	if maxAge <= 0 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   c.cookies.Domain,
		HttpOnly: httpOnly,
		Secure:   c.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
		Expires:  expires.UTC(),
	}
}

func toUserDTO(u *user.User) *userDTO {
	if u == nil {
		return nil
	}
	return &userDTO{
		ID:        u.ID,
		Email:     u.Email,
		PersonID:  u.PersonID,
		FullName:  u.FullName,
		CreatedAt: u.CreatedAt,
	}
}
