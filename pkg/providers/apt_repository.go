package providers

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// AptRepositoryProviderName is the provider name of apt repositories.
const AptRepositoryProviderName = "apt_repository"

// Directories apt repository resources are written to.
const (
	AptSourcesDir  = "/etc/apt/sources.list.d"
	AptKeyringsDir = "/etc/apt/keyrings"
)

// AptRepositoryProperties configures an apt repository resource.
type AptRepositoryProperties struct {
	URI          string   `json:"uri"`
	Distribution string   `json:"distribution"`
	Components   []string `json:"components,omitempty"`
	Keyserver    string   `json:"keyserver,omitempty"`
	Key          string   `json:"key,omitempty"`
	DebSrc       bool     `json:"deb_src,omitempty"`
}

var aptListTemplate = template.Must(template.New("apt").Parse(
	`# Managed by froyo-mysql
deb {{with .SignedBy}}[signed-by={{.}}] {{end}}{{.URI}} {{.Distribution}}{{range .Components}} {{.}}{{end}}
{{if .DebSrc}}deb-src {{with .SignedBy}}[signed-by={{.}}] {{end}}{{.URI}} {{.Distribution}}{{range .Components}} {{.}}{{end}}
{{end}}`))

// AptRepositoryProvider adds apt repositories and their signing keys.
type AptRepositoryProvider struct {
	shell engine.Shell
}

// NewAptRepositoryProvider creates an apt repository provider.
func NewAptRepositoryProvider(shell engine.Shell) *AptRepositoryProvider {
	return &AptRepositoryProvider{shell: shell}
}

// Name implements engine.Provider.
func (p *AptRepositoryProvider) Name() string {
	return AptRepositoryProviderName
}

// ListPath returns the list file of the named repository.
func ListPath(name string) string {
	return AptSourcesDir + "/" + name + ".list"
}

// KeyringPath returns the keyring holding the signing key of the named
// repository.
func KeyringPath(name string) string {
	return AptKeyringsDir + "/" + name + ".gpg"
}

// RenderAptList renders the sources list file of a repository. A non-empty
// keyring restricts the repository to keys in that keyring.
func RenderAptList(props AptRepositoryProperties, keyring string) ([]byte, error) {
	var buf bytes.Buffer
	err := aptListTemplate.Execute(&buf, struct {
		AptRepositoryProperties
		SignedBy string
	}{props, keyring})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Apply implements engine.Provider.
func (p *AptRepositoryProvider) Apply(ctx context.Context, r *engine.Resource, action engine.Action) (*engine.ApplyResult, error) {
	switch action {
	case engine.ActionNothing:
		return &engine.ApplyResult{Message: "nothing"}, nil
	case engine.ActionAdd:
	default:
		return nil, unsupportedAction(r.Ref, p.Name(), action)
	}

	if err := safeName(r.Ref); err != nil {
		return nil, err
	}

	var props AptRepositoryProperties
	if err := r.DecodeProperties(&props); err != nil {
		return nil, err
	}
	if props.URI == "" || props.Distribution == "" {
		return nil, engine.NewPermanentError("apt repository needs a uri and a distribution", nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(r.Ref.String())
	}

	keyring := ""
	keyAdded := false
	if props.Key != "" {
		keyring = KeyringPath(r.Ref.Name)
		present, err := p.hasKey(ctx, keyring, props.Key)
		if err != nil {
			return nil, err
		}
		if !present {
			if err := p.receiveKey(ctx, r.Ref, keyring, props); err != nil {
				return nil, err
			}
			keyAdded = true
		}
	}

	content, err := RenderAptList(props, keyring)
	if err != nil {
		return nil, engine.NewPermanentError("failed to render repository file", err).
			WithResource(r.Ref.String())
	}
	listPath := ListPath(r.Ref.Name)
	changed, err := ensureFile(ctx, p.shell, listPath, content, 0o644)
	if err != nil {
		return nil, err
	}

	if changed || keyAdded {
		if _, err := runChecked(ctx, p.shell, r.Ref, "apt-get",
			"update",
			"-o", "Dir::Etc::sourcelist="+strings.TrimPrefix(listPath, "/etc/apt/"),
			"-o", "Dir::Etc::sourceparts=-",
			"-o", "APT::Get::List-Cleanup=0",
		); err != nil {
			return nil, discardFile(ctx, p.shell, r.Ref, listPath, err)
		}
	}

	msg := "up_to_date"
	switch {
	case changed:
		msg = "added"
	case keyAdded:
		msg = "key_added"
	}
	return &engine.ApplyResult{Changed: changed || keyAdded, Message: msg}, nil
}

// receiveKey fetches the signing key from the keyserver into keyring. The
// keyring is written in the OpenPGP format apt reads, not as a keybox.
func (p *AptRepositoryProvider) receiveKey(ctx context.Context, ref engine.ResourceRef, keyring string, props AptRepositoryProperties) error {
	keyserver := props.Keyserver
	if keyserver == "" {
		keyserver = "keyserver.ubuntu.com"
	}
	if _, err := runChecked(ctx, p.shell, ref, "install", "-d", "-m", "0755", AptKeyringsDir); err != nil {
		return err
	}
	if _, err := runChecked(ctx, p.shell, ref, "gpg", "--batch", "--no-default-keyring",
		"--keyring", "gnupg-ring:"+keyring, "--keyserver", keyserver, "--recv-keys", props.Key); err != nil {
		return err
	}
	_, err := runChecked(ctx, p.shell, ref, "chmod", "0644", keyring)
	return err
}

// hasKey reports whether keyring holds key. A missing keyring holds nothing.
func (p *AptRepositoryProvider) hasKey(ctx context.Context, keyring, key string) (bool, error) {
	res, err := p.shell.Run(ctx, "gpg", "--batch", "--no-default-keyring",
		"--keyring", "gnupg-ring:"+keyring, "--with-colons", "--fingerprint")
	if err != nil {
		return false, err
	}
	if !res.Success() {
		return false, nil
	}
	id := strings.ToUpper(strings.TrimPrefix(strings.TrimPrefix(key, "0x"), "0X"))
	for _, line := range strings.Split(res.Stdout, "\n") {
		if !strings.HasPrefix(line, "fpr:") && !strings.HasPrefix(line, "pub:") {
			continue
		}
		if strings.Contains(strings.ToUpper(line), id) {
			return true, nil
		}
	}
	return false, nil
}

// String describes the repository line, for plans.
func (props AptRepositoryProperties) String() string {
	return fmt.Sprintf("deb %s %s %s", props.URI, props.Distribution, strings.Join(props.Components, " "))
}
