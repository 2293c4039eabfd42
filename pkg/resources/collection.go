package resources

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Collection is the run's resource collection. Resources are declared
// inert and converge only when activated, either immediately by a recipe
// or by the converge phase.
type Collection struct {
	mu sync.Mutex

	providers *ProviderSet
	logger    zerolog.Logger
	observers []engine.ActivationObserver

	resources []*engine.Resource
	index     map[engine.ResourceRef]int
	activated map[engine.ResourceRef]bool
	journal   []engine.Activation

	runID  string
	phase  engine.Phase
	dryRun bool
	now    func() time.Time
}

var _ engine.ResourceRegistry = (*Collection)(nil)

// Option configures a Collection.
type Option func(*Collection)

// WithLogger sets the collection's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Collection) {
		c.logger = logger
	}
}

// WithObserver adds an observer notified after every activation.
func WithObserver(o engine.ActivationObserver) Option {
	return func(c *Collection) {
		c.observers = append(c.observers, o)
	}
}

// WithDryRun records activations without invoking providers.
func WithDryRun(dryRun bool) Option {
	return func(c *Collection) {
		c.dryRun = dryRun
	}
}

// WithRunID stamps journal entries with the run ID.
func WithRunID(id string) Option {
	return func(c *Collection) {
		c.runID = id
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collection) {
		c.now = now
	}
}

// NewCollection creates an empty collection converging through providers.
func NewCollection(providers *ProviderSet, opts ...Option) *Collection {
	c := &Collection{
		providers: providers,
		logger:    zerolog.Nop(),
		index:     make(map[engine.ResourceRef]int),
		activated: make(map[engine.ResourceRef]bool),
		phase:     engine.PhaseCompile,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Declaration describes a resource to declare.
type Declaration struct {
	Ref        engine.ResourceRef
	Provider   string
	Action     engine.Action
	Properties interface{}
	DeclaredBy string
}

// Declare adds a resource in inert state and returns its handle.
// Declaring the same kind and name twice is a conflict.
func (c *Collection) Declare(d Declaration) (engine.ResourceHandle, error) {
	if err := d.Ref.Kind.Validate(); err != nil {
		return engine.ResourceHandle{}, engine.NewPermanentError("invalid resource declaration", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(d.Ref.String())
	}
	if d.Ref.Name == "" {
		return engine.ResourceHandle{}, engine.NewPermanentError("invalid resource declaration",
			fmt.Errorf("%s resource has no name", d.Ref.Kind)).
			WithCode(engine.ErrCodeValidation)
	}
	if d.Provider == "" {
		return engine.ResourceHandle{}, engine.NewPermanentError("invalid resource declaration",
			fmt.Errorf("no provider")).
			WithCode(engine.ErrCodeValidation).
			WithResource(d.Ref.String())
	}
	if d.Action == "" {
		d.Action = engine.ActionNothing
	}

	var props json.RawMessage
	if d.Properties != nil {
		raw, err := json.Marshal(d.Properties)
		if err != nil {
			return engine.ResourceHandle{}, engine.NewPermanentError("invalid resource properties", err).
				WithCode(engine.ErrCodeValidation).
				WithResource(d.Ref.String())
		}
		props = raw
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if seq, exists := c.index[d.Ref]; exists {
		return engine.ResourceHandle{}, engine.NewConflictError("resource already declared", nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithResource(d.Ref.String()).
			WithDetail("declared_by", c.resources[seq].DeclaredBy)
	}

	seq := len(c.resources)
	c.resources = append(c.resources, &engine.Resource{
		Ref:        d.Ref,
		Provider:   d.Provider,
		Action:     d.Action,
		Properties: props,
		DeclaredBy: d.DeclaredBy,
		Status:     engine.ResourceStatusDeclared,
	})
	c.index[d.Ref] = seq

	c.logger.Debug().
		Str("resource", d.Ref.String()).
		Str("provider", d.Provider).
		Str("declared_by", d.DeclaredBy).
		Msg("Declared resource")

	return engine.NewResourceHandle(d.Ref, seq), nil
}

// Lookup returns the handle of a declared resource.
func (c *Collection) Lookup(kind engine.ResourceKind, name string) (engine.ResourceHandle, error) {
	ref := engine.ResourceRef{Kind: kind, Name: name}

	c.mu.Lock()
	defer c.mu.Unlock()

	seq, ok := c.index[ref]
	if !ok {
		return engine.ResourceHandle{}, engine.NewPermanentError("resource not declared", nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(ref.String())
	}
	return engine.NewResourceHandle(ref, seq), nil
}

// Activate runs the resource's action now and records it in the journal.
// Provider errors are returned unmodified.
func (c *Collection) Activate(ctx context.Context, handle engine.ResourceHandle) error {
	c.mu.Lock()
	res, err := c.resolve(handle)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	phase, dryRun, runID := c.phase, c.dryRun, c.runID
	c.mu.Unlock()

	activation := engine.Activation{
		RunID:     runID,
		Ref:       res.Ref,
		Provider:  res.Provider,
		Action:    res.Action,
		Phase:     phase,
		DryRun:    dryRun,
		StartedAt: c.now(),
	}

	var applyErr error
	if dryRun {
		activation.Message = fmt.Sprintf("would %s", res.Action)
	} else {
		provider, perr := c.providers.Get(res.Provider)
		if perr != nil {
			applyErr = perr
		} else {
			result, err := provider.Apply(ctx, res, res.Action)
			applyErr = err
			if result != nil {
				activation.Changed = result.Changed
				activation.Message = result.Message
			}
		}
	}
	activation.Duration = c.now().Sub(activation.StartedAt)

	c.mu.Lock()
	if applyErr != nil {
		activation.Error = applyErr.Error()
		res.Status = engine.ResourceStatusFailed
	} else {
		res.Status = engine.ResourceStatusActive
	}
	c.activated[res.Ref] = true
	activation.Seq = len(c.journal) + 1
	c.journal = append(c.journal, activation)
	observers := c.observers
	c.mu.Unlock()

	event := c.logger.Info()
	if applyErr != nil {
		event = c.logger.Error().Err(applyErr)
	}
	event.
		Int("seq", activation.Seq).
		Str("resource", res.Ref.String()).
		Str("provider", res.Provider).
		Str("action", string(res.Action)).
		Str("phase", string(phase)).
		Bool("changed", activation.Changed).
		Bool("dry_run", dryRun).
		Dur("duration", activation.Duration).
		Msg("Activated resource")

	for _, o := range observers {
		o.ActivationCompleted(ctx, &activation)
	}

	return applyErr
}

func (c *Collection) resolve(handle engine.ResourceHandle) (*engine.Resource, error) {
	seq := handle.Seq()
	if seq < 0 || seq >= len(c.resources) || c.resources[seq].Ref != handle.Ref() {
		return nil, engine.NewPermanentError("resource handle does not belong to this collection", nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(handle.Ref().String())
	}
	return c.resources[seq], nil
}

// SetPhase sets the phase recorded for subsequent activations.
func (c *Collection) SetPhase(phase engine.Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = phase
}

// AddObserver registers an observer.
func (c *Collection) AddObserver(o engine.ActivationObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

// Activated reports whether the resource has been activated in this run.
func (c *Collection) Activated(ref engine.ResourceRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activated[ref]
}

// Pending returns handles of declared resources not yet activated, in
// declaration order.
func (c *Collection) Pending() []engine.ResourceHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []engine.ResourceHandle
	for seq, res := range c.resources {
		if !c.activated[res.Ref] {
			out = append(out, engine.NewResourceHandle(res.Ref, seq))
		}
	}
	return out
}

// All returns copies of the declared resources in declaration order.
func (c *Collection) All() []engine.Resource {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]engine.Resource, len(c.resources))
	for i, res := range c.resources {
		out[i] = *res
	}
	return out
}

// Len returns the number of declared resources.
func (c *Collection) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

// Journal returns a copy of the activation journal.
func (c *Collection) Journal() []engine.Activation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Activation(nil), c.journal...)
}
