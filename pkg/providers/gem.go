package providers

import (
	"context"
	"strings"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// GemProviderName is the provider name of Ruby gems.
const GemProviderName = "gem"

// GemProperties configures a gem resource.
type GemProperties struct {
	Version string   `json:"version,omitempty"`
	Options []string `json:"options,omitempty"`
}

// GemProvider installs Ruby gems into the automation runtime.
type GemProvider struct {
	shell  engine.Shell
	binary string
}

// NewGemProvider creates a gem provider using the given gem binary.
func NewGemProvider(shell engine.Shell, binary string) *GemProvider {
	if binary == "" {
		binary = "gem"
	}
	return &GemProvider{shell: shell, binary: binary}
}

// Name implements engine.Provider.
func (p *GemProvider) Name() string {
	return GemProviderName
}

// Apply implements engine.Provider.
func (p *GemProvider) Apply(ctx context.Context, r *engine.Resource, action engine.Action) (*engine.ApplyResult, error) {
	switch action {
	case engine.ActionNothing:
		return &engine.ApplyResult{Message: "nothing"}, nil
	case engine.ActionInstall:
	default:
		return nil, unsupportedAction(r.Ref, p.Name(), action)
	}

	var props GemProperties
	if err := r.DecodeProperties(&props); err != nil {
		return nil, err
	}

	listArgs := []string{"list", "--installed", "^" + r.Ref.Name + "$"}
	if props.Version != "" {
		listArgs = append(listArgs, "--version", props.Version)
	}
	res, err := p.shell.Run(ctx, p.binary, listArgs...)
	if err != nil {
		return nil, err
	}
	if res.Success() && strings.TrimSpace(res.Stdout) == "true" {
		return &engine.ApplyResult{Message: "already_present", Version: props.Version}, nil
	}

	args := []string{"install", r.Ref.Name, "--no-document"}
	if props.Version != "" {
		args = append(args, "--version", props.Version)
	}
	args = append(args, props.Options...)
	if _, err := runChecked(ctx, p.shell, r.Ref, p.binary, args...); err != nil {
		return nil, err
	}

	return &engine.ApplyResult{Changed: true, Message: "installed", Version: props.Version}, nil
}
