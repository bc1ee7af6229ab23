package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

const loginQuery = "data.practice.login"

// DefaultLoginPolicy requires the second factor for enrolled users unless the
// device is trusted, and allows remembering a device only when one is named.
const DefaultLoginPolicy = `package practice.login

default two_factor_required := false

default remember_device_allowed := false

two_factor_required if {
	input.user.two_factor_enabled
	not input.device.trusted
}

remember_device_allowed if {
	input.device.id != ""
}
`

// OPAEvaluator evaluates the login policy with OPA Rego. The module is
// compiled once at construction.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
	log   zerolog.Logger
}

// NewOPAEvaluator compiles module, or DefaultLoginPolicy when module is empty.
// The module must define package practice.login.
func NewOPAEvaluator(ctx context.Context, module string, log zerolog.Logger) (*OPAEvaluator, error) {
	if module == "" {
		module = DefaultLoginPolicy
	}
	q, err := rego.New(
		rego.Query(loginQuery),
		rego.Module("login.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	return &OPAEvaluator{query: q, log: log}, nil
}

// NewOPAEvaluatorFromFile loads the Rego module at path, or the default
// policy when path is empty.
func NewOPAEvaluatorFromFile(ctx context.Context, path string, log zerolog.Logger) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "", log)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b), log)
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.eval(ctx, LoginInput{})
	return err
}

// EvaluateLogin evaluates the policy for in. If evaluation fails the decision
// falls back to requiring the second factor for every enrolled user and the
// error is returned alongside it.
func (e *OPAEvaluator) EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error) {
	d, err := e.eval(ctx, in)
	if err != nil {
		e.log.Error().Err(err).Str("user_id", in.UserID).Msg("login policy evaluation failed; using fallback")
		return LoginDecision{TwoFactorRequired: in.TwoFactorEnabled}, err
	}
	return d, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, in LoginInput) (LoginDecision, error) {
	roles := in.Roles
	if roles == nil {
		roles = []string{}
	}
	input := map[string]interface{}{
		"user": map[string]interface{}{
			"id":                 in.UserID,
			"org_id":             in.OrgID,
			"roles":              roles,
			"two_factor_enabled": in.TwoFactorEnabled,
		},
		"device": map[string]interface{}{
			"id":      in.DeviceID,
			"trusted": in.DeviceTrusted,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return LoginDecision{}, fmt.Errorf("eval login policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return LoginDecision{}, fmt.Errorf("login policy returned no result")
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return LoginDecision{}, fmt.Errorf("login policy result is %T", rs[0].Expressions[0].Value)
	}
	var d LoginDecision
	if v, ok := doc["two_factor_required"].(bool); ok {
		d.TwoFactorRequired = v
	}
	if v, ok := doc["remember_device_allowed"].(bool); ok {
		d.RememberDeviceAllowed = v
	}
	return d, nil
}
