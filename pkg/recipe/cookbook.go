package recipe

import (
	"context"
	"sort"
	"sync"
)

// Recipe is a unit of a run list. It declares resources and may activate
// or include others through the run context.
type Recipe func(ctx context.Context, rc *RunContext) error

// Cookbook maps qualified recipe names to recipes.
type Cookbook struct {
	mu      sync.RWMutex
	recipes map[string]Recipe
}

// NewCookbook creates an empty cookbook.
func NewCookbook() *Cookbook {
	return &Cookbook{recipes: make(map[string]Recipe)}
}

// DefaultCookbook returns a cookbook with the mysql and build-essential
// recipes.
func DefaultCookbook() *Cookbook {
	c := NewCookbook()
	c.Register(BuildEssential, buildEssentialRecipe)
	c.Register(Client, clientRecipe)
	c.Register(PerconaRepo, perconaRepoRecipe)
	c.Register(MariaDBRepo, mariadbRepoRecipe)
	c.Register(Ruby, rubyRecipe)
	return c
}

// Register adds or replaces a recipe.
func (c *Cookbook) Register(name string, r Recipe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recipes[QualifiedName(name)] = r
}

// Get returns the named recipe.
func (c *Cookbook) Get(name string) (Recipe, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.recipes[QualifiedName(name)]
	return r, ok
}

// Names returns the registered recipe names, sorted.
func (c *Cookbook) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.recipes))
	for name := range c.recipes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
