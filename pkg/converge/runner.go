package converge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-mysql/pkg/config"
	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/facts"
	"github.com/openfroyo/froyo-mysql/pkg/policy"
	"github.com/openfroyo/froyo-mysql/pkg/providers"
	"github.com/openfroyo/froyo-mysql/pkg/recipe"
	"github.com/openfroyo/froyo-mysql/pkg/resources"
	"github.com/openfroyo/froyo-mysql/pkg/stores"
	"github.com/openfroyo/froyo-mysql/pkg/telemetry"
)

// ProviderFactory returns the providers for a node.
type ProviderFactory func(shell engine.Shell, platformFamily, gemBinary string) []engine.Provider

// Runner converges nodes: it collects facts, composes attributes, loads
// the run list (compile phase), activates the remaining resources
// (converge phase), evaluates policies and records the run.
type Runner struct {
	loader    *config.Loader
	collector *facts.Collector
	cookbook  *recipe.Cookbook
	providers ProviderFactory
	policy    *policy.Engine
	store     stores.Store
	tracer    *telemetry.Tracer
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	newID     func() string
	now       func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore records runs, activations and events in s.
func WithStore(s stores.Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithPolicy evaluates policies after the converge phase.
func WithPolicy(e *policy.Engine) Option {
	return func(r *Runner) { r.policy = e }
}

// WithTelemetry traces runs and records metrics.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(r *Runner) {
		r.tracer = t.Tracer
		r.metrics = t.Metrics
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithCookbook replaces the default cookbook.
func WithCookbook(c *recipe.Cookbook) Option {
	return func(r *Runner) { r.cookbook = c }
}

// WithProviders replaces the built-in providers.
func WithProviders(f ProviderFactory) Option {
	return func(r *Runner) { r.providers = f }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(r *Runner) { r.newID = fn }
}

// NewRunner creates a runner.
func NewRunner(loader *config.Loader, collector *facts.Collector, opts ...Option) *Runner {
	r := &Runner{
		loader:    loader,
		collector: collector,
		cookbook:  recipe.DefaultCookbook(),
		providers: providers.Builtin,
		logger:    zerolog.Nop(),
		newID:     uuid.NewString,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.tracer == nil {
		r.tracer, _ = telemetry.NewTracer(telemetry.TracingConfig{}, "froyo-mysql", "")
	}
	if r.metrics == nil {
		r.metrics, _ = telemetry.NewMetrics(telemetry.MetricsConfig{})
	}
	return r
}

// Request describes one converge.
type Request struct {
	Node  *config.Node
	Shell engine.Shell

	// DryRun records activations without invoking providers.
	DryRun bool

	// RefreshFacts ignores cached facts.
	RefreshFacts bool
}

// Converge runs the node's run list. The returned run is complete even
// when err is non-nil; err is the error that aborted the run, unchanged.
func (r *Runner) Converge(ctx context.Context, req Request) (*engine.Run, error) {
	run := &engine.Run{
		ID:        r.newID(),
		Node:      req.Node.Name,
		RunList:   append([]string(nil), req.Node.RunList...),
		Status:    engine.RunStatusRunning,
		DryRun:    req.DryRun,
		StartedAt: r.now(),
	}
	target := req.Shell.Target()
	logger := r.logger.With().Str("run_id", run.ID).Str("node", run.Node).Logger()

	ctx, span := r.tracer.StartRun(ctx, run.ID, run.Node, target)
	defer span.End()

	if r.store != nil {
		rec, err := stores.NewRunRecord(run, target)
		if err == nil {
			err = r.store.CreateRun(ctx, rec)
		}
		if err != nil {
			return run, err
		}
	}
	r.event(ctx, run.ID, engine.EventTypeRunStarted, fmt.Sprintf("run started on %s", target), map[string]interface{}{
		"run_list": run.RunList,
		"dry_run":  run.DryRun,
	})
	logger.Info().Str("target", target).Strs("run_list", run.RunList).Bool("dry_run", run.DryRun).Msg("Starting run")

	collection, attrs, err := r.execute(ctx, logger, req, run)
	if collection != nil {
		run.Activations = collection.Journal()
		run.Summarize(collection.Len())
	}

	if err == nil && r.policy != nil {
		err = r.evaluatePolicies(ctx, run, attrs)
	}

	r.finish(ctx, logger, run, target, err)
	if err != nil {
		telemetry.RecordError(span, err)
	} else {
		telemetry.RecordSuccess(span)
	}
	span.SetAttributes(telemetry.AttrRunStatus.String(string(run.Status)))
	return run, err
}

// execute runs the compile and converge phases.
func (r *Runner) execute(ctx context.Context, logger zerolog.Logger, req Request, run *engine.Run) (*resources.Collection, *config.Attributes, error) {
	names, err := recipe.ParseRunList(req.Node.RunList)
	if err != nil {
		return nil, nil, err
	}

	nodeFacts, err := r.collector.Collect(ctx, req.Shell, req.RefreshFacts)
	if err != nil {
		return nil, nil, err
	}

	attrs, err := r.loader.Compose(ctx, req.Node, nodeFacts)
	if err != nil {
		return nil, nil, err
	}

	family := attrs.StringOr(config.AttrPlatformFamily, "")
	gemBinary := attrs.StringOr(config.AttrGemBinary, "gem")

	collection := resources.NewCollection(
		resources.NewProviderSet(r.providers(req.Shell, family, gemBinary)...),
		resources.WithLogger(logger),
		resources.WithDryRun(req.DryRun),
		resources.WithRunID(run.ID),
		resources.WithClock(r.now),
		resources.WithObserver(r.tracer),
		resources.WithObserver(r.metrics),
		resources.WithObserver(engine.ActivationObserverFunc(func(ctx context.Context, a *engine.Activation) {
			r.recordActivation(ctx, logger, a)
		})),
	)
	driver := resources.NewGemInstaller(collection, providers.GemProviderName, recipe.Ruby)

	rc := recipe.NewRunContext(r.cookbook, attrs, collection, driver,
		recipe.WithLogger(logger),
		recipe.OnLoad(func(name string) {
			r.event(ctx, run.ID, engine.EventTypeRecipeLoaded, "loaded "+name, nil)
		}),
	)

	defer func() { run.LoadedRecipes = rc.LoadedRecipes() }()

	for _, name := range names {
		rctx, span := r.tracer.StartRecipe(ctx, name)
		err := rc.IncludeRecipe(rctx, name)
		if err != nil {
			telemetry.RecordError(span, err)
		}
		span.End()
		if err != nil {
			return collection, attrs, err
		}
	}

	collection.SetPhase(engine.PhaseConverge)
	pctx, span := r.tracer.StartPhase(ctx, engine.PhaseConverge)
	defer span.End()
	for _, h := range collection.Pending() {
		if err := collection.Activate(pctx, h); err != nil {
			telemetry.RecordError(span, err)
			return collection, attrs, err
		}
	}

	return collection, attrs, nil
}

func (r *Runner) evaluatePolicies(ctx context.Context, run *engine.Run, attrs *config.Attributes) error {
	node := map[string]interface{}{}
	if attrs != nil {
		node = attrs.Merged()
	}

	result, err := r.policy.Evaluate(ctx, policy.NewInput(run, node))
	if err != nil {
		return err
	}
	run.Policy = result

	var blocking []string
	for _, v := range result.Violations {
		r.event(ctx, run.ID, engine.EventTypePolicyViolation, v.Message, map[string]interface{}{
			"policy":   v.Policy,
			"severity": v.Severity,
			"resource": v.Resource,
		})
		if policy.Severity(v.Severity).Blocking() {
			blocking = append(blocking, v.Policy)
		}
	}
	if !result.Allowed {
		return engine.NewPermanentError("run denied by policy", fmt.Errorf("violated: %v", blocking)).
			WithCode(engine.ErrCodePolicyDenied)
	}
	return nil
}

// finish sets the terminal status and records the run.
func (r *Runner) finish(ctx context.Context, logger zerolog.Logger, run *engine.Run, target string, runErr error) {
	completed := r.now()
	run.CompletedAt = &completed
	run.Duration = completed.Sub(run.StartedAt)

	switch {
	case runErr == nil:
		run.Status = engine.RunStatusSucceeded
	case errors.Is(runErr, context.Canceled):
		run.Status = engine.RunStatusCancelled
		run.Error = runErr.Error()
	default:
		run.Status = engine.RunStatusFailed
		run.Error = runErr.Error()
	}

	r.metrics.RecordRun(run)
	r.metrics.RecordError(runErr)

	// the run context may be cancelled; the record must still land
	storeCtx := context.WithoutCancel(ctx)
	if r.store != nil {
		rec, err := stores.NewRunRecord(run, target)
		if err == nil {
			err = r.store.UpdateRun(storeCtx, rec)
		}
		if err != nil {
			logger.Error().Err(err).Msg("Failed to record run")
		}
	}

	if runErr != nil {
		r.event(storeCtx, run.ID, engine.EventTypeRunFailed, runErr.Error(), map[string]interface{}{
			"class": engine.ErrorClassOf(runErr),
		})
		logger.Error().Err(runErr).
			Str("status", string(run.Status)).
			Int("activated", run.Summary.Activated).
			Dur("duration", run.Duration).
			Msg("Run failed")
		return
	}

	r.event(storeCtx, run.ID, engine.EventTypeRunCompleted, "run completed", map[string]interface{}{
		"summary": run.Summary,
	})
	logger.Info().
		Int("declared", run.Summary.Declared).
		Int("activated", run.Summary.Activated).
		Int("changed", run.Summary.Changed).
		Dur("duration", run.Duration).
		Msg("Run completed")
}

func (r *Runner) recordActivation(ctx context.Context, logger zerolog.Logger, a *engine.Activation) {
	if r.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := r.store.AppendActivation(ctx, stores.NewActivationRecord(a)); err != nil {
		logger.Warn().Err(err).Str("resource", a.Ref.String()).Msg("Failed to record activation")
	}

	eventType, msg := engine.EventTypeResourceActivated, fmt.Sprintf("%s %s", a.Action, a.Ref)
	if a.Error != "" {
		eventType, msg = engine.EventTypeResourceFailed, a.Error
	}
	r.event(ctx, a.RunID, eventType, msg, map[string]interface{}{
		"seq":      a.Seq,
		"resource": a.Ref.String(),
		"provider": a.Provider,
		"phase":    a.Phase,
		"changed":  a.Changed,
	})
}

// event appends to the store's event log. Failures are logged, never
// returned.
func (r *Runner) event(ctx context.Context, runID string, t engine.EventType, msg string, details map[string]interface{}) {
	if r.store == nil {
		return
	}
	ev := &stores.Event{
		RunID:     &runID,
		Type:      t,
		Message:   msg,
		Timestamp: r.now(),
	}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			s := string(raw)
			ev.Details = &s
		}
	}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		r.logger.Warn().Err(err).Str("event", string(t)).Msg("Failed to record event")
	}
}
