package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/99minutos/tracking-relay/internal/api/middleware"
)

// identity is the authenticated caller as injected by the Auth middleware.
type identity struct {
	ID       string
	Username string
	Role     string
}

// ctxIdentity extracts the auth claims and fails fast before any service
// call when the middleware did not run.
func ctxIdentity(c echo.Context) (identity, error) {
	id := identity{}
	id.ID, _ = c.Get(middleware.CtxSubject).(string)
	id.Username, _ = c.Get(middleware.CtxUsername).(string)
	id.Role, _ = c.Get(middleware.CtxRole).(string)
	if id.ID == "" || id.Role == "" {
		return identity{}, echo.NewHTTPError(http.StatusUnauthorized, "missing authentication claims")
	}
	return id, nil
}
