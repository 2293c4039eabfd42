package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Engine evaluates Rego policies against finished runs.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
	now      func() time.Time
}

// compiledPolicy is a policy with its deny query prepared.
type compiledPolicy struct {
	policy *Policy
	query  rego.PreparedEvalQuery
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
		now:      time.Now,
	}

	builtins := BuiltinPolicies()
	for i := range builtins {
		if err := e.add(context.Background(), &builtins[i]); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().Int("count", len(builtins)).Msg("Built-in policies loaded")
	return e, nil
}

// Evaluate runs every enabled policy against input. A policy that fails
// to evaluate is reported as a warning and does not block the run.
func (e *Engine) Evaluate(ctx context.Context, input *Input) (*engine.PolicyResult, error) {
	start := e.now()

	e.mu.RLock()
	names := e.sortedNames()
	policies := make([]*compiledPolicy, 0, len(names))
	for _, name := range names {
		if cp := e.policies[name]; cp.policy.Enabled {
			policies = append(policies, cp)
		}
	}
	e.mu.RUnlock()

	result := &engine.PolicyResult{Allowed: true}
	for _, cp := range policies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("Policy evaluation failed")
			result.Warnings = append(result.Warnings, fmt.Sprintf("policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		for _, v := range violations {
			if Severity(v.Severity).Blocking() {
				result.Allowed = false
			}
		}
		result.Violations = append(result.Violations, violations...)
	}
	result.EvaluatedAt = e.now()

	e.logger.Debug().
		Int("policies", len(policies)).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Dur("duration", result.EvaluatedAt.Sub(start)).
		Msg("Policy evaluation completed")

	return result, nil
}

func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *Input) ([]engine.PolicyViolation, error) {
	rs, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []engine.PolicyViolation
	for _, r := range rs {
		if len(r.Expressions) == 0 {
			continue
		}
		denied, ok := r.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denied {
			violations = append(violations, newViolation(cp.policy, d))
		}
	}

	// deny is a set; order it for stable reports
	sort.SliceStable(violations, func(i, j int) bool {
		return violations[i].Message < violations[j].Message
	})
	return violations, nil
}

// newViolation converts one element of a deny set. Elements are either a
// message string or an object with message, severity and resource.
func newViolation(p *Policy, d interface{}) engine.PolicyViolation {
	v := engine.PolicyViolation{
		Policy:   p.Name,
		Severity: string(p.Severity),
	}
	switch val := d.(type) {
	case string:
		v.Message = val
	case map[string]interface{}:
		if msg, ok := val["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := val["severity"].(string); ok {
			v.Severity = sev
		}
		if res, ok := val["resource"].(string); ok {
			v.Resource = res
		}
	default:
		v.Message = fmt.Sprintf("%v", d)
	}
	return v
}

// add parses p, prepares its deny query and stores it, replacing any
// policy of the same name.
func (e *Engine) add(ctx context.Context, p *Policy) error {
	module, err := ast.ParseModuleWithOpts(p.Name, p.Rego, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	query, err := rego.New(
		rego.SetRegoVersion(ast.RegoV1),
		rego.ParsedModule(module),
		rego.Query(module.Package.Path.String()+".deny"),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.mu.Lock()
	e.policies[p.Name] = &compiledPolicy{policy: p, query: query}
	e.mu.Unlock()

	e.logger.Debug().Str("policy", p.Name).Msg("Policy compiled")
	return nil
}

// Load compiles policies and adds them to the engine. Nothing is added
// unless every policy compiles.
func (e *Engine) Load(ctx context.Context, policies []Policy) error {
	staged := New(e.logger)
	for i := range policies {
		if err := staged.add(ctx, &policies[i]); err != nil {
			return engine.NewPermanentError("invalid policy", err).
				WithCode(engine.ErrCodeValidation).
				WithDetail("policy", policies[i].Name)
		}
	}

	e.mu.Lock()
	for name, cp := range staged.policies {
		e.policies[name] = cp
	}
	e.mu.Unlock()

	e.logger.Info().Int("count", len(policies)).Msg("Policies loaded")
	return nil
}

// LoadPaths loads .rego and .json policy files from paths.
func (e *Engine) LoadPaths(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return err
	}
	return e.Load(ctx, policies)
}

// Replace drops every user policy and loads policies in their place.
// Built-in policies are kept.
func (e *Engine) Replace(ctx context.Context, policies []Policy) error {
	staged := New(e.logger)
	for i := range policies {
		if err := staged.add(ctx, &policies[i]); err != nil {
			return engine.NewPermanentError("invalid policy", err).
				WithCode(engine.ErrCodeValidation).
				WithDetail("policy", policies[i].Name)
		}
	}

	e.mu.Lock()
	for name, cp := range e.policies {
		if !cp.policy.Builtin {
			delete(e.policies, name)
		}
	}
	for name, cp := range staged.policies {
		e.policies[name] = cp
	}
	e.mu.Unlock()

	e.logger.Info().Int("count", len(policies)).Msg("Policies replaced")
	return nil
}

// New returns an engine without built-in policies.
func New(logger zerolog.Logger) *Engine {
	return &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger,
		now:      time.Now,
	}
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, ok := e.policies[name]
	if !ok {
		return nil, engine.NewPermanentError("policy not found", fmt.Errorf("%s", name)).
			WithCode(engine.ErrCodeNotFound)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		out = append(out, *e.policies[name].policy)
	}
	return out
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, ok := e.policies[name]
	if !ok {
		return engine.NewPermanentError("policy not found", fmt.Errorf("%s", name)).
			WithCode(engine.ErrCodeNotFound)
	}
	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy toggled")
	return nil
}

// sortedNames must be called with e.mu held.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
