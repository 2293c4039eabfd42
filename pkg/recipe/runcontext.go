package recipe

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-mysql/pkg/config"
	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/resources"
)

// RunContext is the state shared by the recipes of one run: node
// attributes, the resource collection, and the set of recipes loaded so
// far, in inclusion order.
type RunContext struct {
	Node      *config.Attributes
	Resources *resources.Collection
	Driver    engine.DriverInstaller

	cookbook *Cookbook
	logger   zerolog.Logger
	onLoad   func(name string)

	mu     sync.Mutex
	loaded []string
	index  map[string]struct{}
}

var (
	_ engine.RecipeInclusionSet = (*RunContext)(nil)
	_ engine.RecipeIncluder     = (*RunContext)(nil)
)

// RunContextOption configures a RunContext.
type RunContextOption func(*RunContext)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) RunContextOption {
	return func(rc *RunContext) { rc.logger = logger }
}

// OnLoad registers a callback invoked each time a recipe starts loading.
func OnLoad(fn func(name string)) RunContextOption {
	return func(rc *RunContext) { rc.onLoad = fn }
}

// NewRunContext creates a run context.
func NewRunContext(cookbook *Cookbook, node *config.Attributes, collection *resources.Collection, driver engine.DriverInstaller, opts ...RunContextOption) *RunContext {
	rc := &RunContext{
		Node:      node,
		Resources: collection,
		Driver:    driver,
		cookbook:  cookbook,
		logger:    zerolog.Nop(),
		index:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Contains implements engine.RecipeInclusionSet.
func (rc *RunContext) Contains(name string) bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	_, ok := rc.index[QualifiedName(name)]
	return ok
}

// LoadedRecipes returns the loaded recipes in inclusion order.
func (rc *RunContext) LoadedRecipes() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return append([]string(nil), rc.loaded...)
}

// IncludeRecipe implements engine.RecipeIncluder. A recipe is marked
// loaded before it runs, so recursive includes are no-ops. Errors from the
// recipe are returned unchanged.
func (rc *RunContext) IncludeRecipe(ctx context.Context, name string) error {
	name = QualifiedName(name)

	recipe, ok := rc.cookbook.Get(name)
	if !ok {
		return engine.NewPermanentError("recipe not found", fmt.Errorf("no recipe %q in cookbook", name)).
			WithCode(engine.ErrCodeNotFound).
			WithDetail("recipe", name)
	}

	rc.mu.Lock()
	if _, seen := rc.index[name]; seen {
		rc.mu.Unlock()
		rc.logger.Debug().Str("recipe", name).Msg("recipe already loaded")
		return nil
	}
	rc.index[name] = struct{}{}
	rc.loaded = append(rc.loaded, name)
	rc.mu.Unlock()

	rc.logger.Info().Str("recipe", name).Msg("loading recipe")
	if rc.onLoad != nil {
		rc.onLoad(name)
	}

	return recipe(ctx, rc)
}

// QualifiedName expands a bare cookbook name to its default recipe.
func QualifiedName(name string) string {
	if name != "" && !strings.Contains(name, "::") {
		return name + "::default"
	}
	return name
}

// ParseRunList converts run-list items ("recipe[mysql::ruby]" or
// "mysql::ruby") to qualified recipe names.
func ParseRunList(items []string) ([]string, error) {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		name := item
		if strings.HasPrefix(item, "recipe[") && strings.HasSuffix(item, "]") {
			name = strings.TrimSuffix(strings.TrimPrefix(item, "recipe["), "]")
		} else if strings.ContainsAny(item, "[]") {
			return nil, engine.NewPermanentError("unsupported run list item", fmt.Errorf("%q", item)).
				WithCode(engine.ErrCodeValidation)
		}
		if name == "" || strings.HasPrefix(name, "::") || strings.HasSuffix(name, "::") {
			return nil, engine.NewPermanentError("invalid recipe name", fmt.Errorf("%q", item)).
				WithCode(engine.ErrCodeValidation)
		}
		out = append(out, QualifiedName(name))
	}
	return out, nil
}
