package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/pageflow/pageflow/pkg/engine"
)

// Engine decides whether a host requires interactive login by evaluating
// Rego policies in package pageflow.auth. With no policies loaded the
// built-in domain allow-list applies. Engine implements auth.HostPolicy.
type Engine struct {
	mu       sync.RWMutex
	policies []Policy
	domains  []string
	query    rego.PreparedEvalQuery
	logger   zerolog.Logger
}

// NewEngine creates an engine with the built-in policy and the given
// interactive domains.
func NewEngine(logger zerolog.Logger, domains []string) (*Engine, error) {
	e := &Engine{
		domains: append([]string(nil), domains...),
		logger:  logger.With().Str("component", "policy-engine").Logger(),
	}
	if err := e.SetPolicies(context.Background(), nil); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}
	return e, nil
}

// RequiresInteractiveAuth implements auth.HostPolicy.
func (e *Engine) RequiresInteractiveAuth(ctx context.Context, host string) (bool, error) {
	d, err := e.Decide(ctx, HostInput{Host: host})
	if err != nil {
		return false, err
	}
	return d.Interactive, nil
}

// Decide evaluates the policies for in.
func (e *Engine) Decide(ctx context.Context, in HostInput) (*Decision, error) {
	start := time.Now()

	e.mu.RLock()
	query := e.query
	names := policyNames(e.policies)
	e.mu.RUnlock()

	rs, err := query.Eval(ctx, rego.EvalInput(in))
	if err != nil {
		return nil, engine.NewTransientError("host policy evaluation failed", err).WithOperation("policy.decide")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, engine.NewConfigurationError(fmt.Sprintf("host policy does not define %s.%s", PackagePath, RuleName), nil)
	}

	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return nil, engine.NewConfigurationError(fmt.Sprintf("%s is not an object", PackagePath), nil)
	}
	interactive, ok := doc[RuleName].(bool)
	if !ok {
		return nil, engine.NewConfigurationError(fmt.Sprintf("host policy does not define boolean %s.%s", PackagePath, RuleName), nil)
	}

	d := &Decision{
		Host:        in.Host,
		Interactive: interactive,
		Reasons:     stringSet(doc["reasons"]),
		Policies:    names,
		EvaluatedAt: time.Now(),
	}

	e.logger.Debug().
		Str("host", in.Host).
		Bool("interactive", interactive).
		Strs("reasons", d.Reasons).
		Dur("duration", time.Since(start)).
		Msg("Host policy evaluated")

	return d, nil
}

func stringSet(v interface{}) []string {
	items, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

func policyNames(ps []Policy) []string {
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name)
	}
	return names
}

// LoadPolicies replaces the active policies with those found under paths.
func (e *Engine) LoadPolicies(ctx context.Context, loader *Loader, paths []string) error {
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetPolicies(ctx, policies)
}

// SetPolicies compiles policies and swaps them in. Disabled policies are
// ignored; if none remain the built-in policy applies. On error the active
// policies are left unchanged.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	var active []Policy
	for _, p := range policies {
		if p.Enabled {
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		active = BuiltinPolicies()
	}

	opts := []func(*rego.Rego){
		rego.Query(PackagePath),
		rego.Store(inmem.NewFromObject(e.configData())),
	}
	for _, p := range active {
		if err := checkPackage(p); err != nil {
			return err
		}
		opts = append(opts, rego.Module(p.Name+".rego", p.Rego))
	}

	query, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return engine.NewConfigurationError("failed to compile host policies", err)
	}

	e.mu.Lock()
	e.policies = active
	e.query = query
	e.mu.Unlock()

	e.logger.Info().
		Strs("policies", policyNames(active)).
		Msg("Host policies loaded")

	return nil
}

func (e *Engine) configData() map[string]interface{} {
	domains := make([]interface{}, 0, len(e.domains))
	for _, d := range e.domains {
		domains = append(domains, d)
	}
	return map[string]interface{}{
		"pageflow": map[string]interface{}{
			"config": map[string]interface{}{
				"interactive_domains": domains,
			},
		},
	}
}

// checkPackage rejects modules outside package pageflow.auth.
func checkPackage(p Policy) error {
	module, err := ast.ParseModule(p.Name+".rego", p.Rego)
	if err != nil {
		return engine.NewConfigurationError(fmt.Sprintf("failed to parse policy %s", p.Name), err)
	}
	if got := module.Package.Path.String(); got != PackagePath {
		return engine.NewConfigurationError(
			fmt.Sprintf("policy %s declares %s, expected package pageflow.auth", p.Name, got), nil)
	}
	return nil
}

// ListPolicies returns the active policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Policy(nil), e.policies...)
}

// Watch reloads the policies under paths whenever a .rego file changes.
// A policy set that fails to compile is logged and the previous set stays
// active.
func (e *Engine) Watch(ctx context.Context, loader *Loader, paths []string) error {
	return loader.Watch(ctx, paths, func(policies []Policy) error {
		return e.SetPolicies(ctx, policies)
	})
}
