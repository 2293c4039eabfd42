package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents a stored convergence run
type Run struct {
	ID            string           `json:"id"`
	Node          string           `json:"node"`
	Target        string           `json:"target"`
	RunList       string           `json:"run_list"` // JSON array
	Status        engine.RunStatus `json:"status"`
	DryRun        bool             `json:"dry_run"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Error         *string          `json:"error,omitempty"`
	LoadedRecipes string           `json:"loaded_recipes"` // JSON array
	Summary       string           `json:"summary"`        // JSON blob
	Policy        *string          `json:"policy,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Activation represents one stored journal entry
type Activation struct {
	RunID      string    `json:"run_id"`
	Seq        int       `json:"seq"`
	Kind       string    `json:"kind"`
	Name       string    `json:"name"`
	Provider   string    `json:"provider"`
	Action     string    `json:"action"`
	Phase      string    `json:"phase"`
	Changed    bool      `json:"changed"`
	DryRun     bool      `json:"dry_run"`
	Message    string    `json:"message"`
	Error      *string   `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64            `json:"id"`
	RunID     *string          `json:"run_id,omitempty"`
	Type      engine.EventType `json:"type"`
	Level     EventLevel       `json:"level"`
	Message   string           `json:"message"`
	Details   *string          `json:"details,omitempty"` // JSON blob
	Timestamp time.Time        `json:"timestamp"`
}

// Fact holds the cached facts of one target
type Fact struct {
	TargetID  string     `json:"target_id"`
	Value     string     `json:"value"` // JSON of engine.Facts
	TTL       int        `json:"ttl"`   // seconds, 0 = no expiry
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, node *string, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Activation operations
	AppendActivation(ctx context.Context, activation *Activation) error
	ListActivations(ctx context.Context, runID string) ([]*Activation, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID *string, level *EventLevel, limit, offset int) ([]*Event, error)

	// Facts operations
	UpsertFacts(ctx context.Context, fact *Fact) error
	GetFacts(ctx context.Context, targetID string) (*Fact, error)
	DeleteExpiredFacts(ctx context.Context) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// NewRunRecord converts an engine run to its stored form.
func NewRunRecord(r *engine.Run, target string) (*Run, error) {
	runList, err := json.Marshal(r.RunList)
	if err != nil {
		return nil, err
	}
	loaded, err := json.Marshal(r.LoadedRecipes)
	if err != nil {
		return nil, err
	}
	summary, err := json.Marshal(r.Summary)
	if err != nil {
		return nil, err
	}

	rec := &Run{
		ID:            r.ID,
		Node:          r.Node,
		Target:        target,
		RunList:       string(runList),
		Status:        r.Status,
		DryRun:        r.DryRun,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
		LoadedRecipes: string(loaded),
		Summary:       string(summary),
	}
	if r.Error != "" {
		rec.Error = &r.Error
	}
	if r.Policy != nil {
		policy, err := json.Marshal(r.Policy)
		if err != nil {
			return nil, err
		}
		s := string(policy)
		rec.Policy = &s
	}
	return rec, nil
}

// NewActivationRecord converts a journal entry to its stored form.
func NewActivationRecord(a *engine.Activation) *Activation {
	rec := &Activation{
		RunID:      a.RunID,
		Seq:        a.Seq,
		Kind:       string(a.Ref.Kind),
		Name:       a.Ref.Name,
		Provider:   a.Provider,
		Action:     string(a.Action),
		Phase:      string(a.Phase),
		Changed:    a.Changed,
		DryRun:     a.DryRun,
		Message:    a.Message,
		StartedAt:  a.StartedAt,
		DurationMS: a.Duration.Milliseconds(),
	}
	if a.Error != "" {
		e := a.Error
		rec.Error = &e
	}
	return rec
}

// Ref returns the activated resource.
func (a *Activation) Ref() engine.ResourceRef {
	return engine.ResourceRef{Kind: engine.ResourceKind(a.Kind), Name: a.Name}
}

// NewFactRecord converts facts to their cached form.
func NewFactRecord(f *engine.Facts) (*Fact, error) {
	value, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	rec := &Fact{
		TargetID:  f.TargetID,
		Value:     string(value),
		TTL:       int(f.TTL.Seconds()),
		CreatedAt: f.CollectedAt,
		UpdatedAt: f.CollectedAt,
	}
	if f.TTL > 0 {
		expires := f.CollectedAt.Add(f.TTL)
		rec.ExpiresAt = &expires
	}
	return rec, nil
}

// Facts decodes the cached facts.
func (f *Fact) Facts() (*engine.Facts, error) {
	var facts engine.Facts
	if err := json.Unmarshal([]byte(f.Value), &facts); err != nil {
		return nil, err
	}
	return &facts, nil
}
