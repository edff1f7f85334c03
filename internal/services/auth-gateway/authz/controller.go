package authz

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	creds "github.com/NordCoder/Turnstile/internal/auth"
	domainauth "github.com/NordCoder/Turnstile/internal/domain/auth"
	"github.com/NordCoder/Turnstile/internal/domain/authz"
	"github.com/NordCoder/Turnstile/internal/httpx"
	"github.com/NordCoder/Turnstile/internal/obs"
	"github.com/NordCoder/Turnstile/internal/services/auth-gateway/auth"
)

// Permission required to call the admin routes.
const (
	AdminModule     = "security"
	AdminForm       = "roles"
	AdminPermission = "manage"
)

type Builder interface {
	Build(ctx context.Context, principalID int64) (*authz.Context, error)
}

type Controller struct {
	log   *zap.Logger
	uc    *AdminUsecase
	cache Builder
	parse func(token string) (*creds.AccessClaims, error)
}

func NewController(uc *AdminUsecase, cache Builder, parse func(string) (*creds.AccessClaims, error), log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		log:   log.With(zap.String("component", "authz.http")),
		uc:    uc,
		cache: cache,
		parse: parse,
	}
}

func (c *Controller) Register(mux *http.ServeMux) {
	guard := func(h http.HandlerFunc) http.Handler {
		return auth.RequireBearer(c.parse, RequirePermission(c.cache, AdminModule, AdminForm, AdminPermission, c.log, h))
	}
	mux.Handle("PUT /v1/admin/users/{userID}/roles/{roleID}", guard(c.AssignRole))
	mux.Handle("DELETE /v1/admin/users/{userID}/roles/{roleID}", guard(c.UnassignRole))
	mux.Handle("PUT /v1/admin/roles/{roleID}/grants", guard(c.ReplaceGrants))
}

// RequirePermission admits callers whose authorization context grants
// permission on module/form. It must run behind auth.RequireBearer.
func RequirePermission(cache Builder, module, form, permission string, log *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, id, ok := auth.ClaimsFromCtx(r.Context())
		if !ok {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		actx, err := cache.Build(r.Context(), id)
		switch {
		case errors.Is(err, authz.ErrInactivePrincipal), errors.Is(err, domainauth.ErrNotFound):
			httpx.WriteError(w, http.StatusUnauthorized, "invalid credentials")
			return
		case err != nil:
			obs.WithTrace(r.Context(), log).Error("authorization context", zap.Int64("user_id", id), zap.Error(err))
			httpx.WriteError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if !actx.Can(module, form, permission) {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (c *Controller) AssignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := userRole(w, r)
	if !ok {
		return
	}
	if err := c.uc.AssignRole(r.Context(), userID, roleID); err != nil {
		c.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) UnassignRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID, ok := userRole(w, r)
	if !ok {
		return
	}
	if err := c.uc.UnassignRole(r.Context(), userID, roleID); err != nil {
		c.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type replaceGrantsRequest struct {
	Grants []authz.GrantRef `json:"grants"`
}

func (c *Controller) ReplaceGrants(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req replaceGrantsRequest
	if err := httpx.DecodeJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := c.uc.ReplaceGrants(r.Context(), roleID, req.Grants); err != nil {
		c.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, domainauth.ErrNotFound) {
		httpx.WriteError(w, http.StatusNotFound, "not found")
		return
	}
	obs.WithTrace(r.Context(), c.log).Error("admin request failed", zap.String("path", r.URL.Path), zap.Error(err))
	httpx.WriteError(w, http.StatusInternalServerError, "internal error")
}

func userRole(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return 0, 0, false
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return 0, 0, false
	}
	return userID, roleID, true
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		httpx.WriteError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}
