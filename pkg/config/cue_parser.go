package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// CUEParser reads node files written in CUE. A CUE node file is a plain
// struct with the same fields as the YAML form and may use CUE expressions:
//
//	name:     "db1"
//	run_list: ["recipe[mysql::ruby]"]
//	attributes: mysql: implementation: "percona"
type CUEParser struct {
	schemas *SchemaRegistry
}

// NewCUEParser creates a parser that shares the registry's CUE context.
func NewCUEParser(schemas *SchemaRegistry) *CUEParser {
	return &CUEParser{schemas: schemas}
}

// Parse compiles content, unifies it with the node schema and decodes it.
func (cp *CUEParser) Parse(filename string, content []byte) (NodeFile, error) {
	var nf NodeFile

	cp.schemas.mu.RLock()
	val := cp.schemas.ctx.CompileBytes(content, cue.Filename(filename))
	cp.schemas.mu.RUnlock()
	if err := val.Err(); err != nil {
		return nf, convertCUEErrors(err)
	}

	schema, ok := cp.schemas.GetSchema(SchemaNode)
	if !ok {
		return nf, fmt.Errorf("schema %s not found", SchemaNode)
	}

	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nf, convertCUEErrors(err)
	}

	if err := unified.Decode(&nf); err != nil {
		return nf, fmt.Errorf("failed to decode %s: %w", filename, err)
	}

	return nf, nil
}
