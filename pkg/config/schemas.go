package config

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// SchemaNode is the name of the built-in node file schema.
const SchemaNode = "node"

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaNode, "#Node", builtinNodeSchema); err != nil {
		panic(err)
	}

	return sr
}

// RegisterSchema compiles source and registers the definition it names
// (e.g. "#Node") under name.
func (sr *SchemaRegistry) RegisterSchema(name, definition, source string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}
	if err := def.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema. Schema
// violations are returned as ValidationErrors.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.RLock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.RUnlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return convertCUEErrors(err)
	}

	return nil
}

// ValidateNode validates a node file against the node schema.
func (sr *SchemaRegistry) ValidateNode(ctx context.Context, node NodeFile) error {
	return sr.ValidateAgainstSchema(ctx, SchemaNode, node)
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range errors.Errors(err) {
		pos := errors.Positions(e)
		var file string
		var line, column int

		if len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error(), Severity: "error"})
	}

	return validationErrors
}

const builtinNodeSchema = `
// A run-list entry: recipe[cookbook::recipe] or cookbook::recipe.
#RunListItem: string & =~"^(recipe\\[[A-Za-z0-9_-]+(::[A-Za-z0-9_-]+)?\\]|[A-Za-z0-9_-]+(::[A-Za-z0-9_-]+)?)$"

#Attributes: {
	mysql?: {
		implementation?: "mysql" | "mariadb" | "galera" | "percona"

		client?: {
			packages?: [...string & !=""]
			...
		}

		ruby?: {
			gem_binary?: string & !=""
			...
		}

		percona?: {...}
		mariadb?: {...}
		...
	}

	"build-essential"?: {
		compile_time?: bool
		...
	}

	...
}

#Node: {
	// Name is the node name
	name?: string & =~"^[A-Za-z0-9][A-Za-z0-9._-]*$"

	// RunList is the ordered list of recipes, at least one
	run_list: [#RunListItem, ...#RunListItem]

	attributes?:          #Attributes
	override_attributes?: #Attributes

	// AttributeScripts are Starlark files
	attribute_scripts?: [...string & =~"\\.star$"]
}
`
