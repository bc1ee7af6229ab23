package httpapi

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"practice-portal/auth/internal/identity/service"
	"practice-portal/auth/internal/platform/rbac"
)

type handlers struct {
	auth  *service.AuthService
	roles rbac.PermissionChecker
}

type tokenBody struct {
	Token string `json:"token"`
}

type refreshBody struct {
	RefreshToken string `json:"refresh_token"`
}

type emailBody struct {
	OrgID string `json:"org_id"`
	Email string `json:"email"`
}

type codeBody struct {
	Code string `json:"code"`
}

type passwordBody struct {
	Password string `json:"password"`
}

type roleBody struct {
	Role  string `json:"role"`
	OrgID string `json:"org_id"`
}

func (h *handlers) register(c echo.Context) error {
	var req service.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusCreated, h.auth.Register(c.Request().Context(), req))
}

func (h *handlers) verifyEmail(c echo.Context) error {
	var req tokenBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.VerifyEmail(c.Request().Context(), req.Token))
}

func (h *handlers) resendVerification(c echo.Context) error {
	var req emailBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusAccepted, h.auth.ResendEmailVerification(c.Request().Context(), req.OrgID, req.Email))
}

func (h *handlers) login(c echo.Context) error {
	var req service.LoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.Login(c.Request().Context(), req))
}

func (h *handlers) completeLogin(c echo.Context) error {
	var req service.CompleteLoginRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.CompleteLogin(c.Request().Context(), req))
}

func (h *handlers) refresh(c echo.Context) error {
	var req refreshBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.RefreshToken(c.Request().Context(), req.RefreshToken))
}

func (h *handlers) forgotPassword(c echo.Context) error {
	var req emailBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusAccepted, h.auth.ForgotPassword(c.Request().Context(), req.OrgID, req.Email))
}

func (h *handlers) resetPassword(c echo.Context) error {
	var req service.ResetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.ResetPassword(c.Request().Context(), req))
}

func (h *handlers) logout(c echo.Context) error {
	return respond(c, http.StatusOK, h.auth.Logout(c.Request().Context(), principal(c)))
}

func (h *handlers) revoke(c echo.Context) error {
	var req refreshBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.RevokeToken(c.Request().Context(), principal(c).UserID, req.RefreshToken))
}

func (h *handlers) revokeAll(c echo.Context) error {
	return respond(c, http.StatusOK, h.auth.RevokeAllTokens(c.Request().Context(), principal(c).UserID))
}

func (h *handlers) changePassword(c echo.Context) error {
	var req service.ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.ChangePassword(c.Request().Context(), principal(c), req))
}

func (h *handlers) setupTwoFactor(c echo.Context) error {
	return respond(c, http.StatusOK, h.auth.SetupTwoFactor(c.Request().Context(), principal(c)))
}

func (h *handlers) enableTwoFactor(c echo.Context) error {
	var req codeBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.EnableTwoFactor(c.Request().Context(), principal(c), req.Code))
}

func (h *handlers) disableTwoFactor(c echo.Context) error {
	var req passwordBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	return respond(c, http.StatusOK, h.auth.DisableTwoFactor(c.Request().Context(), principal(c), req.Password))
}

func (h *handlers) listSessions(c echo.Context) error {
	return respond(c, http.StatusOK, h.auth.ListSessions(c.Request().Context(), principal(c)))
}

func (h *handlers) terminateSession(c echo.Context) error {
	return respond(c, http.StatusOK, h.auth.TerminateSession(c.Request().Context(), principal(c), c.Param("id")))
}

func (h *handlers) me(c echo.Context) error {
	return respond(c, http.StatusOK, h.auth.GetCurrentUser(c.Request().Context(), principal(c)))
}

// adminOrg checks roles:manage and resolves the org an admin action targets.
// An explicit org_id must be the caller's own.
func (h *handlers) adminOrg(c echo.Context, requested string) (string, error) {
	ctx := c.Request().Context()
	orgID, _, err := rbac.RequirePermission(ctx, h.roles, PermManageRoles)
	if err != nil {
		return "", err
	}
	if requested = strings.TrimSpace(requested); requested != "" {
		if err := rbac.RequireSameOrg(ctx, requested); err != nil {
			return "", err
		}
	}
	return orgID, nil
}

func (h *handlers) assignRole(c echo.Context) error {
	var req roleBody
	if err := c.Bind(&req); err != nil {
		return badRequest(c)
	}
	orgID, err := h.adminOrg(c, req.OrgID)
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, h.auth.AssignRole(c.Request().Context(), principal(c), c.Param("id"), req.Role, orgID))
}

func (h *handlers) revokeRole(c echo.Context) error {
	orgID, err := h.adminOrg(c, c.QueryParam("org_id"))
	if err != nil {
		return fail(c, err)
	}
	return respond(c, http.StatusOK, h.auth.RevokeRole(c.Request().Context(), principal(c), c.Param("id"), c.Param("role"), orgID))
}
