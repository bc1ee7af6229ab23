package httpapi

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"practice-portal/auth/internal/autherr"
	"practice-portal/auth/internal/platform/rbac"
)

// statusByKind maps failure kinds to HTTP status codes.
var statusByKind = map[autherr.Kind]int{
	autherr.Internal:           http.StatusInternalServerError,
	autherr.NotFound:           http.StatusNotFound,
	autherr.Expired:            http.StatusGone,
	autherr.AlreadyUsed:        http.StatusConflict,
	autherr.AttemptsExceeded:   http.StatusTooManyRequests,
	autherr.InvalidCredentials: http.StatusUnauthorized,
	autherr.InvalidState:       http.StatusConflict,
	autherr.Unauthorized:       http.StatusUnauthorized,
	autherr.Validation:         http.StatusBadRequest,
	autherr.Conflict:           http.StatusConflict,
	autherr.Malformed:          http.StatusUnauthorized,
	autherr.BadSignature:       http.StatusUnauthorized,
}

// StatusFor returns the HTTP status for a failure kind.
func StatusFor(k autherr.Kind) int {
	if s, ok := statusByKind[k]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// respond writes r with okStatus on success or the kind's status on failure.
func respond[T any](c echo.Context, okStatus int, r autherr.Response[T]) error {
	if r.Success {
		return c.JSON(okStatus, r)
	}
	return c.JSON(StatusFor(r.Error.Kind), r)
}

// fail writes err in the response envelope. Authenticated callers lacking a
// permission get 403.
func fail(c echo.Context, err error) error {
	r := autherr.Fail[struct{}](err)
	status := StatusFor(r.Error.Kind)
	if errors.Is(err, rbac.ErrPermissionDenied) {
		status = http.StatusForbidden
	}
	return c.JSON(status, r)
}

// badRequest is returned when the body cannot be decoded.
func badRequest(c echo.Context) error {
	return fail(c, autherr.Invalid("http.Bind", "request body is not valid JSON"))
}

var echoCodes = map[int]string{
	http.StatusNotFound:              "not_found",
	http.StatusMethodNotAllowed:      "method_not_allowed",
	http.StatusTooManyRequests:       "rate_limited",
	http.StatusRequestEntityTooLarge: "payload_too_large",
	http.StatusBadRequest:            "validation_failed",
	http.StatusUnauthorized:          "unauthorized",
}

// errorHandler renders errors returned by middleware and the router (404,
// 405, 429, panics) in the same envelope as service failures.
func errorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := http.StatusText(status)
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			if s, ok := he.Message.(string); ok {
				msg = s
			} else {
				msg = http.StatusText(status)
			}
		} else {
			log.Error().Err(err).Str("path", c.Path()).Msg("unhandled error")
		}
		code, ok := echoCodes[status]
		if !ok {
			code = autherr.Internal.Code()
		}
		body := map[string]any{
			"success": false,
			"error":   map[string]string{"code": code, "message": msg},
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = c.JSON(status, body)
	}
}
