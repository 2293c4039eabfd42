package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceKind is the abstract kind of a declared resource. Lookups are keyed
// by kind and name so that a platform-specific provider (apt vs yum) can sit
// behind the same reference.
type ResourceKind string

const (
	// KindPackage is a native OS package.
	KindPackage ResourceKind = "package"

	// KindRepository is a package repository definition.
	KindRepository ResourceKind = "repository"

	// KindKey is a repository signing key.
	KindKey ResourceKind = "key"

	// KindGem is a Ruby gem installed into the automation runtime.
	KindGem ResourceKind = "gem"
)

// Validate checks if the resource kind is known.
func (k ResourceKind) Validate() error {
	switch k {
	case KindPackage, KindRepository, KindKey, KindGem:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// Action is the action a provider runs when a resource is activated.
type Action string

const (
	// ActionInstall installs a package or gem if it is missing.
	ActionInstall Action = "install"

	// ActionAdd adds a repository or key if it is missing or stale.
	ActionAdd Action = "add"

	// ActionNothing leaves the resource untouched.
	ActionNothing Action = "nothing"
)

// ResourceRef identifies a declared resource by kind and name.
type ResourceRef struct {
	Kind ResourceKind `json:"kind"`
	Name string       `json:"name"`
}

// String renders the ref the way run logs show it, e.g. "repository[percona]".
func (r ResourceRef) String() string {
	return fmt.Sprintf("%s[%s]", r.Kind, r.Name)
}

// Fixed references activated by the mysql::ruby recipe.
var (
	PerconaRepository = ResourceRef{Kind: KindRepository, Name: "percona"}
	PerconaGPGKey     = ResourceRef{Kind: KindKey, Name: "percona-gpg-key"}
	MariaDBRepository = ResourceRef{Kind: KindRepository, Name: "mariadb"}
)

// PackageRef returns the reference of the package resource with the given name.
func PackageRef(name string) ResourceRef {
	return ResourceRef{Kind: KindPackage, Name: name}
}

// ResourceHandle is an opaque, typed handle returned by a registry lookup.
// Activation only accepts handles, never bare strings.
type ResourceHandle struct {
	ref ResourceRef
	seq int
}

// NewResourceHandle creates a handle for a declared resource. seq is the
// declaration order within the owning collection.
func NewResourceHandle(ref ResourceRef, seq int) ResourceHandle {
	return ResourceHandle{ref: ref, seq: seq}
}

// Ref returns the resource reference behind the handle.
func (h ResourceHandle) Ref() ResourceRef {
	return h.ref
}

// Seq returns the declaration sequence of the resource.
func (h ResourceHandle) Seq() int {
	return h.seq
}

// Resource is a declared unit of desired system state.
type Resource struct {
	// Ref is the kind and name of the resource.
	Ref ResourceRef `json:"ref"`

	// Provider is the provider implementing the resource (e.g. "apt_repository").
	Provider string `json:"provider"`

	// Action is the default action run on activation.
	Action Action `json:"action"`

	// Properties is the provider-specific configuration.
	Properties json.RawMessage `json:"properties,omitempty"`

	// DeclaredBy is the recipe that declared the resource.
	DeclaredBy string `json:"declared_by,omitempty"`

	// Status is the current activation status.
	Status ResourceStatus `json:"status"`
}

// DecodeProperties unmarshals the resource properties into v.
func (r *Resource) DecodeProperties(v interface{}) error {
	if len(r.Properties) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Properties, v); err != nil {
		return NewPermanentError("invalid resource properties", err).
			WithResource(r.Ref.String()).
			WithCode(ErrCodeValidation)
	}
	return nil
}

// Phase is the run phase an activation happened in.
type Phase string

const (
	// PhaseCompile covers activations triggered while recipes are loaded.
	PhaseCompile Phase = "compile"

	// PhaseConverge covers activations of the remaining resource collection.
	PhaseConverge Phase = "converge"
)

// ApplyResult is what a provider reports after running an action.
type ApplyResult struct {
	// Changed reports whether the node was modified.
	Changed bool `json:"changed"`

	// Message describes what happened ("installed", "already_present", ...).
	Message string `json:"message,omitempty"`

	// Version is the installed version, when the provider knows it.
	Version string `json:"version,omitempty"`
}

// Activation is one entry of the run's activation journal.
type Activation struct {
	// Seq is the position of the activation within the run, starting at 1.
	Seq int `json:"seq"`

	// RunID is the ID of the run this activation belongs to.
	RunID string `json:"run_id,omitempty"`

	// Ref is the activated resource.
	Ref ResourceRef `json:"ref"`

	// Provider is the provider that ran the action.
	Provider string `json:"provider"`

	// Action is the action that ran.
	Action Action `json:"action"`

	// Phase is the run phase.
	Phase Phase `json:"phase"`

	// Changed reports whether the node was modified.
	Changed bool `json:"changed"`

	// Message is the provider's result message.
	Message string `json:"message,omitempty"`

	// DryRun is set when the provider was not invoked.
	DryRun bool `json:"dry_run,omitempty"`

	// StartedAt is when the activation started.
	StartedAt time.Time `json:"started_at"`

	// Duration is how long the activation took.
	Duration time.Duration `json:"duration"`

	// Error is the error message, if the activation failed.
	Error string `json:"error,omitempty"`
}

// Run represents one convergence of a node.
type Run struct {
	// ID is the unique identifier for this run.
	ID string `json:"id"`

	// Node is the node name.
	Node string `json:"node"`

	// RunList is the expanded run list.
	RunList []string `json:"run_list"`

	// Status is the current status of the run.
	Status RunStatus `json:"status"`

	// DryRun is set for why-run executions.
	DryRun bool `json:"dry_run,omitempty"`

	// StartedAt is when the run started.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration"`

	// LoadedRecipes lists the recipes included, in inclusion order.
	LoadedRecipes []string `json:"loaded_recipes,omitempty"`

	// Activations is the activation journal.
	Activations []Activation `json:"activations,omitempty"`

	// Summary provides statistics about the run.
	Summary RunSummary `json:"summary"`

	// Policy is the result of evaluating policies on the journal.
	Policy *PolicyResult `json:"policy,omitempty"`

	// Error is the error that aborted the run, if any.
	Error string `json:"error,omitempty"`
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	// Declared is the number of declared resources.
	Declared int `json:"declared"`

	// Activated is the number of activations.
	Activated int `json:"activated"`

	// Changed is the number of activations that modified the node.
	Changed int `json:"changed"`

	// Failed is the number of failed activations.
	Failed int `json:"failed"`
}

// Summarize recomputes the summary from the journal.
func (r *Run) Summarize(declared int) {
	s := RunSummary{Declared: declared, Activated: len(r.Activations)}
	for i := range r.Activations {
		if r.Activations[i].Changed {
			s.Changed++
		}
		if r.Activations[i].Error != "" {
			s.Failed++
		}
	}
	r.Summary = s
}

// PolicyResult represents the result of policy evaluation.
type PolicyResult struct {
	// Allowed indicates if the run passed all blocking policies.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists policy evaluation warnings.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the policy was evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation represents a single policy violation.
type PolicyViolation struct {
	// Policy is the policy name that was violated.
	Policy string `json:"policy"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity (info, warning, error, critical).
	Severity string `json:"severity"`

	// Resource is the resource reference that violated the policy, if applicable.
	Resource string `json:"resource,omitempty"`
}

// Facts represents discovered system state of a node.
type Facts struct {
	// TargetID is the ID of the target system.
	TargetID string `json:"target_id"`

	// Hostname is the node's hostname.
	Hostname string `json:"hostname"`

	// Platform is the distribution ID (e.g. "ubuntu", "centos").
	Platform string `json:"platform"`

	// PlatformVersion is the distribution version.
	PlatformVersion string `json:"platform_version"`

	// PlatformFamily is the distribution family (e.g. "debian", "rhel").
	PlatformFamily string `json:"platform_family"`

	// Codename is the release codename, when the distribution has one.
	Codename string `json:"codename,omitempty"`

	// CollectedAt is when the facts were collected.
	CollectedAt time.Time `json:"collected_at"`

	// TTL is how long the facts are considered valid.
	TTL time.Duration `json:"ttl"`
}

// Expired reports whether the facts are older than their TTL.
func (f *Facts) Expired(now time.Time) bool {
	if f.TTL <= 0 {
		return false
	}
	return now.After(f.CollectedAt.Add(f.TTL))
}

// ExecResult represents the result of a command executed on a node.
type ExecResult struct {
	// Stdout is the standard output from the command.
	Stdout string `json:"stdout"`

	// Stderr is the standard error output from the command.
	Stderr string `json:"stderr"`

	// ExitCode is the command's exit code.
	ExitCode int `json:"exit_code"`

	// Duration is the total execution time.
	Duration time.Duration `json:"duration"`
}

// Success reports whether the command exited with status 0.
func (r *ExecResult) Success() bool {
	return r.ExitCode == 0
}
