package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Loader reads node files and composes their attributes.
type Loader struct {
	schemas   *SchemaRegistry
	cue       *CUEParser
	starlark  *StarlarkEvaluator
	validator *validator.Validate
	logger    zerolog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the loader's logger.
func WithLogger(logger zerolog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// WithScriptTimeout sets the Starlark attribute script timeout.
func WithScriptTimeout(timeout time.Duration) LoaderOption {
	return func(l *Loader) {
		l.starlark = NewStarlarkEvaluator(timeout)
	}
}

// NewLoader creates a node file loader.
func NewLoader(opts ...LoaderOption) *Loader {
	schemas := NewSchemaRegistry()
	l := &Loader{
		schemas:   schemas,
		cue:       NewCUEParser(schemas),
		starlark:  NewStarlarkEvaluator(0),
		validator: validator.New(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Schemas returns the loader's schema registry.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// LoadFile reads, validates and returns the node file at path. The format
// is chosen by extension: .cue, or YAML for everything else (JSON is YAML).
func (l *Loader) LoadFile(ctx context.Context, path string) (*Node, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read node file: %w", err)
	}
	return l.Parse(ctx, path, content)
}

// Parse validates content read from path. Attribute scripts are resolved
// relative to the directory of path.
func (l *Loader) Parse(ctx context.Context, path string, content []byte) (*Node, error) {
	var (
		nf  NodeFile
		err error
	)

	if strings.EqualFold(filepath.Ext(path), ".cue") {
		nf, err = l.cue.Parse(path, content)
		if err != nil {
			return nil, err
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(content))
		dec.KnownFields(true)
		if err := dec.Decode(&nf); err != nil {
			return nil, ValidationErrors{{File: path, Message: err.Error(), Severity: "error"}}
		}
	}

	if nf.Name == "" {
		nf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := l.Validate(ctx, path, nf); err != nil {
		return nil, err
	}

	node := &Node{
		NodeFile: nf,
		Path:     path,
		LoadedAt: time.Now(),
	}

	dir := filepath.Dir(path)
	for _, name := range nf.AttributeScripts {
		scriptPath := name
		if !filepath.IsAbs(scriptPath) {
			scriptPath = filepath.Join(dir, name)
		}
		source, err := os.ReadFile(scriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read attribute script: %w", err)
		}
		node.Scripts = append(node.Scripts, Script{Name: name, Source: string(source)})
	}

	l.logger.Debug().
		Str("node", nf.Name).
		Str("path", path).
		Strs("run_list", nf.RunList).
		Int("scripts", len(node.Scripts)).
		Msg("Loaded node file")

	return node, nil
}

// Validate checks a node file with struct tags and the CUE node schema.
func (l *Loader) Validate(ctx context.Context, path string, nf NodeFile) error {
	if err := l.validator.Struct(nf); err != nil {
		return convertValidatorErrors(path, err)
	}

	if err := l.schemas.ValidateNode(ctx, nf); err != nil {
		if verrs, ok := err.(ValidationErrors); ok {
			for i := range verrs {
				if verrs[i].File == "" || verrs[i].File == SchemaNode+".cue" {
					verrs[i].File = path
					verrs[i].Line, verrs[i].Column = 0, 0
				}
			}
			return verrs
		}
		return err
	}

	return nil
}

// Compose builds the node's attribute store: facts at automatic
// precedence, the node file's attributes and overrides, cookbook defaults
// for the platform family, then each attribute script's overrides in
// order. facts may be nil.
func (l *Loader) Compose(ctx context.Context, node *Node, facts *engine.Facts) (*Attributes, error) {
	attrs := NewAttributes()

	if facts != nil {
		attrs.Merge(PrecedenceAutomatic, FactsAttributes(facts))
	}
	if node.Attributes != nil {
		attrs.Merge(PrecedenceNormal, node.Attributes)
	}
	if node.OverrideAttributes != nil {
		attrs.Merge(PrecedenceOverride, node.OverrideAttributes)
	}

	family := attrs.StringOr(AttrPlatformFamily, "")
	ApplyDefaults(attrs, family)

	for _, script := range node.Scripts {
		overrides, err := l.starlark.EvaluateOverrides(ctx, script, attrs.Merged())
		if err != nil {
			return nil, engine.NewPermanentError("attribute script failed", err).
				WithCode(engine.ErrCodeValidation).
				WithDetail("script", script.Name)
		}
		if len(overrides) == 0 {
			continue
		}
		attrs.Merge(PrecedenceOverride, overrides)
		l.logger.Debug().
			Str("node", node.Name).
			Str("script", script.Name).
			Int("keys", len(overrides)).
			Msg("Applied attribute script overrides")
	}

	// scripts may switch the implementation, which changes the package defaults
	if len(node.Scripts) > 0 {
		ApplyDefaults(attrs, family)
	}

	return attrs, nil
}

// FactsAttributes converts facts to automatic attributes.
func FactsAttributes(facts *engine.Facts) map[string]interface{} {
	out := map[string]interface{}{
		AttrPlatform:        facts.Platform,
		AttrPlatformFamily:  facts.PlatformFamily,
		AttrPlatformVersion: facts.PlatformVersion,
		AttrHostname:        facts.Hostname,
	}
	if facts.Codename != "" {
		out["lsb"] = map[string]interface{}{"codename": facts.Codename}
	}
	return out
}

func convertValidatorErrors(path string, err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("validation failed: %w", err)
	}

	verrs := make(ValidationErrors, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		verrs = append(verrs, ValidationError{
			File:     path,
			Path:     fe.Namespace(),
			Message:  msg,
			Severity: "error",
		})
	}
	return verrs
}
