package config

import (
	"fmt"
	"strings"
	"time"
)

// NodeFile is a node definition as read from disk.
type NodeFile struct {
	// Name is the node name. Defaults to the file name without extension.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// RunList is the ordered list of recipes to converge.
	RunList []string `json:"run_list" yaml:"run_list" validate:"required,min=1,dive,required"`

	// Attributes are normal-precedence node attributes.
	Attributes map[string]interface{} `json:"attributes,omitempty" yaml:"attributes,omitempty"`

	// OverrideAttributes are override-precedence node attributes.
	OverrideAttributes map[string]interface{} `json:"override_attributes,omitempty" yaml:"override_attributes,omitempty"`

	// AttributeScripts are Starlark files, relative to the node file, that
	// compute override attributes.
	AttributeScripts []string `json:"attribute_scripts,omitempty" yaml:"attribute_scripts,omitempty" validate:"dive,required"`
}

// Node is a loaded, validated node definition.
type Node struct {
	NodeFile

	// Path is the file the node was loaded from, or "inline".
	Path string `json:"path"`

	// Scripts are the attribute scripts in evaluation order.
	Scripts []Script `json:"scripts,omitempty"`

	// LoadedAt is when the node file was read.
	LoadedAt time.Time `json:"loaded_at"`
}

// Script is a Starlark attribute script.
type Script struct {
	// Name is the script file name used in error messages.
	Name string `json:"name"`

	// Source is the script text.
	Source string `json:"-"`
}

// ValidationError represents a node file validation error.
type ValidationError struct {
	// File is the file where the error occurred.
	File string `json:"file,omitempty"`

	// Line is the line number where the error occurred.
	Line int `json:"line,omitempty"`

	// Column is the column number where the error occurred.
	Column int `json:"column,omitempty"`

	// Path is the attribute or field path where the error occurred.
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// String formats the error the way compilers do: file:line:col: message.
func (v ValidationError) String() string {
	var b strings.Builder
	if v.File != "" {
		b.WriteString(v.File)
		if v.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", v.Line, v.Column)
		}
		b.WriteString(": ")
	}
	if v.Path != "" {
		b.WriteString(v.Path)
		b.WriteString(": ")
	}
	b.WriteString(v.Message)
	return b.String()
}

// ValidationErrors is returned when a node file fails validation.
type ValidationErrors []ValidationError

// Error implements error.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].String()
	}
	msgs := make([]string, len(e))
	for i, v := range e {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%d validation errors:\n  %s", len(e), strings.Join(msgs, "\n  "))
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
