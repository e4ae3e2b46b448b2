package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"go.uber.org/zap"
)

const decisionQuery = "data.mfademo.access.decision"

// defaultRegoPolicy is the built-in session guard. A password-only (aal1) session of an account with a
// verified factor is not authenticated.
const defaultRegoPolicy = `package mfademo.access

default authenticated := false

authenticated if {
	input.session.present
	input.session.aal == "aal2"
}

authenticated if {
	input.session.present
	not input.session.verified_factor
}

default redirect := ""

redirect = "/login" if {
	input.page == "protected"
	not authenticated
}

redirect = "/login" if {
	input.page in {"challenge", "session"}
	not input.session.present
}

redirect = "/profile" if {
	input.page in {"entry", "challenge"}
	authenticated
}

default allow := false

allow if redirect == ""

decision := {
	"allow": allow,
	"redirect": redirect,
	"authenticated": authenticated,
}
`

// OPAEvaluator evaluates the access policy with an in-process prepared Rego query.
type OPAEvaluator struct {
	source string
	query  rego.PreparedEvalQuery
	logger *zap.Logger
}

// NewOPAEvaluator compiles the built-in policy, or the Rego file at policyFile when non-empty.
// The policy must define data.mfademo.access.decision.
func NewOPAEvaluator(ctx context.Context, policyFile string, logger *zap.Logger) (*OPAEvaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	source := defaultRegoPolicy
	if policyFile != "" {
		raw, err := os.ReadFile(policyFile)
		if err != nil {
			return nil, fmt.Errorf("read access policy: %w", err)
		}
		source = string(raw)
	}
	q, err := prepare(ctx, source)
	if err != nil {
		return nil, err
	}
	return &OPAEvaluator{source: source, query: q, logger: logger}, nil
}

func prepare(ctx context.Context, source string) (rego.PreparedEvalQuery, error) {
	compiler, err := ast.CompileModules(map[string]string{"access.rego": source})
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("compile access policy: %w", err)
	}
	q, err := rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return rego.PreparedEvalQuery{}, fmt.Errorf("prepare access policy: %w", err)
	}
	return q, nil
}

// HealthCheck evaluates the loaded policy against an anonymous request for a protected page.
// Returns nil when the policy answers with a redirect.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := e.eval(ctx, PageProtected, SessionInput{})
	if err != nil {
		return err
	}
	if d.Allow {
		return fmt.Errorf("access policy admits anonymous requests to protected pages")
	}
	return nil
}

// Evaluate returns the policy decision. On evaluation failure it logs and fails closed:
// protected, challenge and session pages redirect to the login page, other pages are allowed.
func (e *OPAEvaluator) Evaluate(ctx context.Context, page string, session SessionInput) (Decision, error) {
	d, err := e.eval(ctx, page, session)
	if err != nil {
		e.logger.Error("access policy evaluation failed", zap.String("page", page), zap.Error(err))
		return failClosed(page), err
	}
	return d, nil
}

func (e *OPAEvaluator) eval(ctx context.Context, page string, session SessionInput) (Decision, error) {
	input := map[string]interface{}{
		"page": page,
		"session": map[string]interface{}{
			"present":         session.Present,
			"aal":             session.AAL,
			"verified_factor": session.VerifiedFactor,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval access policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("access policy returned no decision")
	}
	m, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("access policy decision has type %T", rs[0].Expressions[0].Value)
	}
	var d Decision
	d.Allow, _ = m["allow"].(bool)
	d.Redirect, _ = m["redirect"].(string)
	d.Authenticated, _ = m["authenticated"].(bool)
	if !d.Allow && d.Redirect == "" {
		return failClosed(page), nil
	}
	return d, nil
}

func failClosed(page string) Decision {
	switch page {
	case PageProtected, PageChallenge, PageSession:
		return Decision{Allow: false, Redirect: LoginPath}
	default:
		return Decision{Allow: true}
	}
}
