// Package httpapi serves the authentication API over HTTP with echo.
package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/health"
	"practice-portal/auth/internal/identity/service"
	"practice-portal/auth/internal/notify"
	"practice-portal/auth/internal/platform/rbac"
	"practice-portal/auth/internal/server/interceptors"
	tokenservice "practice-portal/auth/internal/token/service"
)

// PermManageRoles lets a caller assign and revoke roles in their practice.
const PermManageRoles = "roles:manage"

// principalKey is the echo context key of the authenticated principal.
const principalKey = "principal"

// Deps holds everything the HTTP API needs. Health and Outbox may be nil;
// Outbox is set only in development and enables GET /dev/outbox.
type Deps struct {
	Auth      *service.AuthService
	Roles     rbac.PermissionChecker
	Health    *health.Server
	Outbox    *notify.Outbox
	Registry  *prometheus.Registry
	RateLimit RateLimitConfig
	Log       zerolog.Logger
}

// New returns the configured echo instance.
func New(d Deps) *echo.Echo {
	if d.Registry == nil {
		d.Registry = prometheus.NewRegistry()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(d.Log)

	m := newHTTPMetrics(d.Registry)
	e.Use(Recovery(d.Log))
	e.Use(echomw.RequestID())
	e.Use(m.middleware())
	e.Use(Logger(d.Log))
	e.Use(echomw.BodyLimit("64K"))
	e.Use(SecurityHeaders())
	e.Use(ClientInfo())

	h := &handlers{auth: d.Auth, roles: d.Roles}

	e.GET("/healthz", healthz(d.Health))
	e.GET("/metrics", metricsHandler(d.Registry))
	if d.Outbox != nil {
		e.GET("/dev/outbox", devOutbox(d.Outbox))
	}

	v1 := e.Group("/v1/auth", RateLimit(d.RateLimit))
	v1.POST("/register", h.register)
	v1.POST("/verify-email", h.verifyEmail)
	v1.POST("/verify-email/resend", h.resendVerification)
	v1.POST("/login", h.login)
	v1.POST("/login/2fa", h.completeLogin)
	v1.POST("/refresh", h.refresh)
	v1.POST("/password/forgot", h.forgotPassword)
	v1.POST("/password/reset", h.resetPassword)

	authed := v1.Group("", RequireAuth(d.Auth))
	authed.POST("/logout", h.logout)
	authed.POST("/revoke", h.revoke)
	authed.POST("/revoke-all", h.revokeAll)
	authed.POST("/password/change", h.changePassword)
	authed.POST("/2fa/setup", h.setupTwoFactor)
	authed.POST("/2fa/enable", h.enableTwoFactor)
	authed.POST("/2fa/disable", h.disableTwoFactor)
	authed.GET("/sessions", h.listSessions)
	authed.DELETE("/sessions/:id", h.terminateSession)
	authed.GET("/me", h.me)

	admin := e.Group("/v1/admin", RateLimit(d.RateLimit), RequireAuth(d.Auth))
	admin.POST("/users/:id/roles", h.assignRole)
	admin.DELETE("/users/:id/roles/:role", h.revokeRole)

	return e
}

// RequireAuth validates the Bearer access token against the session store and
// stores the principal in the echo and request contexts.
func RequireAuth(auth *service.AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := interceptors.ParseBearer(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
				return c.JSON(http.StatusUnauthorized, unauthorizedBody)
			}
			res := auth.Authorize(c.Request().Context(), token, "")
			if !res.Success {
				if res.Error.Kind == autherr.Internal {
					return respond(c, http.StatusOK, res)
				}
				// Expired and revoked access tokens are all 401 here.
				c.Response().Header().Set(echo.HeaderWWWAuthenticate, `Bearer error="invalid_token"`)
				return c.JSON(http.StatusUnauthorized, res)
			}
			p := res.Data
			c.Set(principalKey, p)
			ctx := interceptors.WithIdentity(c.Request().Context(), p.UserID, p.OrgID, p.SessionID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

var unauthorizedBody = map[string]any{
	"success": false,
	"error":   map[string]string{"code": "unauthorized", "message": "missing or invalid authorization"},
}

func principal(c echo.Context) *tokenservice.Principal {
	p, _ := c.Get(principalKey).(*tokenservice.Principal)
	return p
}

func healthz(srv *health.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		if srv == nil {
			return c.JSON(http.StatusOK, health.Report{Healthy: true})
		}
		r := srv.Report(c.Request().Context())
		if !r.Healthy {
			return c.JSON(http.StatusServiceUnavailable, r)
		}
		return c.JSON(http.StatusOK, r)
	}
}

// devOutbox lists undelivered-in-development notifications, optionally for
// one recipient (?recipient=).
func devOutbox(o *notify.Outbox) echo.HandlerFunc {
	return func(c echo.Context) error {
		msgs := o.List(strings.ToLower(strings.TrimSpace(c.QueryParam("recipient"))))
		if msgs == nil {
			msgs = []notify.Message{}
		}
		return c.JSON(http.StatusOK, map[string]any{"messages": msgs})
	}
}
