package engine

import "context"

// LoginInput describes a password-verified login attempt.
type LoginInput struct {
	UserID           string
	OrgID            string
	Roles            []string
	TwoFactorEnabled bool
	DeviceID         string
	// DeviceTrusted is true when the client presented a valid trusted-device
	// token bound to DeviceID.
	DeviceTrusted bool
}

// LoginDecision is the outcome of login policy evaluation.
type LoginDecision struct {
	TwoFactorRequired     bool
	RememberDeviceAllowed bool
}

// Evaluator decides whether a login needs a second factor.
type Evaluator interface {
	EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error)
}
