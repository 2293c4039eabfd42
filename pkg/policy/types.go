package policy

import (
	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should fail the run.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity fails the run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code. The module must define a
	// "deny" set.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not
	// carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin is set for policies shipped with the binary.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Input is the document policies see as "input": the node attributes and
// the activation journal of one run.
type Input struct {
	Node          map[string]interface{} `json:"node"`
	RunList       []string               `json:"run_list"`
	LoadedRecipes []string               `json:"loaded_recipes"`
	DryRun        bool                   `json:"dry_run"`
	Activations   []ActivationInput      `json:"activations"`
}

// ActivationInput is one journal entry as seen by policies.
type ActivationInput struct {
	Seq      int    `json:"seq"`
	Ref      string `json:"ref"`
	Kind     string `json:"kind"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	Action   string `json:"action"`
	Phase    string `json:"phase"`
	Changed  bool   `json:"changed"`
	Error    string `json:"error,omitempty"`
}

// NewInput builds the policy input for a run and its merged node
// attributes.
func NewInput(run *engine.Run, node map[string]interface{}) *Input {
	in := &Input{
		Node:          node,
		RunList:       append([]string{}, run.RunList...),
		LoadedRecipes: append([]string{}, run.LoadedRecipes...),
		DryRun:        run.DryRun,
		Activations:   make([]ActivationInput, 0, len(run.Activations)),
	}
	if in.Node == nil {
		in.Node = map[string]interface{}{}
	}
	for _, a := range run.Activations {
		in.Activations = append(in.Activations, ActivationInput{
			Seq:      a.Seq,
			Ref:      a.Ref.String(),
			Kind:     string(a.Ref.Kind),
			Name:     a.Ref.Name,
			Provider: a.Provider,
			Action:   string(a.Action),
			Phase:    string(a.Phase),
			Changed:  a.Changed,
			Error:    a.Error,
		})
	}
	return in
}
