package engine

import (
	"context"
	"os"
)

// RecipeInclusionSet reports which recipes have already been loaded in the
// current run. It is passed to recipes explicitly.
type RecipeInclusionSet interface {
	// Contains reports whether the named recipe has been loaded.
	Contains(name string) bool
}

// RecipeIncluder loads a recipe into the current run. Including a recipe
// that is already loaded is a no-op.
type RecipeIncluder interface {
	IncludeRecipe(ctx context.Context, name string) error
}

// Attributes is the read side of the node attribute store. Keys are dotted
// paths such as "mysql.client.packages". A missing key is an error.
type Attributes interface {
	// String returns the string value at key.
	String(key string) (string, error)

	// Strings returns the ordered string list at key.
	Strings(key string) ([]string, error)
}

// ResourceRegistry is the resource collection as seen by recipes. Recipes
// never create resources through it, they only look up and activate
// resources that other recipes declared.
type ResourceRegistry interface {
	// Lookup returns the handle of a declared resource.
	Lookup(kind ResourceKind, name string) (ResourceHandle, error)

	// Activate runs the resource's action now and waits for it to finish.
	Activate(ctx context.Context, handle ResourceHandle) error
}

// DriverInstaller installs a language-runtime database driver.
type DriverInstaller interface {
	Install(ctx context.Context, name string) error
}

// Provider converges one kind of declared resource on a node.
type Provider interface {
	// Name returns the provider name resources refer to (e.g. "apt_repository").
	Name() string

	// Apply runs action for the resource and reports whether anything changed.
	Apply(ctx context.Context, resource *Resource, action Action) (*ApplyResult, error)
}

// Shell runs commands and manages files on a node, locally or remotely.
type Shell interface {
	// Run executes a command with arguments. A non-zero exit status is
	// reported in the result, not as an error.
	Run(ctx context.Context, name string, args ...string) (*ExecResult, error)

	// ReadFile returns the contents of a file on the node.
	// It returns an error satisfying errors.Is(err, os.ErrNotExist) when
	// the file is missing.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes a file on the node with the given permissions.
	WriteFile(ctx context.Context, path string, data []byte, mode os.FileMode) error

	// Target describes the node the shell talks to ("local" or user@host).
	Target() string
}

// ActivationObserver is notified after each activation completes.
type ActivationObserver interface {
	ActivationCompleted(ctx context.Context, activation *Activation)
}

// ActivationObserverFunc adapts a function to ActivationObserver.
type ActivationObserverFunc func(ctx context.Context, activation *Activation)

// ActivationCompleted calls f.
func (f ActivationObserverFunc) ActivationCompleted(ctx context.Context, activation *Activation) {
	f(ctx, activation)
}
