package providers

import (
	"bytes"
	"context"
	"text/template"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Provider names of yum resources.
const (
	YumKeyProviderName        = "yum_key"
	YumRepositoryProviderName = "yum_repository"
)

// Directories yum resources are written to.
const (
	YumKeyDir   = "/etc/pki/rpm-gpg"
	YumReposDir = "/etc/yum.repos.d"
)

// YumKeyProperties configures a yum key resource.
type YumKeyProperties struct {
	// URL is where the armored key is fetched from.
	URL string `json:"url"`

	// Key is the file name under /etc/pki/rpm-gpg. Defaults to the resource name.
	Key string `json:"key,omitempty"`
}

// YumKeyProvider fetches and imports RPM signing keys.
type YumKeyProvider struct {
	shell engine.Shell
}

// NewYumKeyProvider creates a yum key provider.
func NewYumKeyProvider(shell engine.Shell) *YumKeyProvider {
	return &YumKeyProvider{shell: shell}
}

// Name implements engine.Provider.
func (p *YumKeyProvider) Name() string {
	return YumKeyProviderName
}

// Apply implements engine.Provider.
func (p *YumKeyProvider) Apply(ctx context.Context, r *engine.Resource, action engine.Action) (*engine.ApplyResult, error) {
	switch action {
	case engine.ActionNothing:
		return &engine.ApplyResult{Message: "nothing"}, nil
	case engine.ActionAdd:
	default:
		return nil, unsupportedAction(r.Ref, p.Name(), action)
	}

	var props YumKeyProperties
	if err := r.DecodeProperties(&props); err != nil {
		return nil, err
	}
	if props.URL == "" {
		return nil, engine.NewPermanentError("yum key needs a url", nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(r.Ref.String())
	}
	name := props.Key
	if name == "" {
		name = r.Ref.Name
	}
	if err := safeName(engine.ResourceRef{Kind: r.Ref.Kind, Name: name}); err != nil {
		return nil, err
	}

	keyPath := YumKeyDir + "/" + name
	exists, err := fileExists(ctx, p.shell, keyPath)
	if err != nil {
		return nil, err
	}
	if exists {
		return &engine.ApplyResult{Message: "already_present"}, nil
	}

	// The key file only stays once rpm holds the key, so its presence
	// marks an imported key.
	if _, err := runChecked(ctx, p.shell, r.Ref, "curl", "--fail", "--silent", "--show-error", "--location", "--output", keyPath, props.URL); err != nil {
		return nil, discardFile(ctx, p.shell, r.Ref, keyPath, err)
	}
	if _, err := runChecked(ctx, p.shell, r.Ref, "rpm", "--import", keyPath); err != nil {
		return nil, discardFile(ctx, p.shell, r.Ref, keyPath, err)
	}

	return &engine.ApplyResult{Changed: true, Message: "imported"}, nil
}

// YumRepositoryProperties configures a yum repository resource.
type YumRepositoryProperties struct {
	Description string `json:"description,omitempty"`
	BaseURL     string `json:"baseurl,omitempty"`
	MirrorList  string `json:"mirrorlist,omitempty"`
	GPGKey      string `json:"gpgkey,omitempty"`
	GPGCheck    bool   `json:"gpgcheck"`
	Enabled     bool   `json:"enabled"`
}

var yumRepoTemplate = template.Must(template.New("yum").Parse(
	`# Managed by froyo-mysql
[{{.Name}}]
name={{if .Description}}{{.Description}}{{else}}{{.Name}}{{end}}
{{if .BaseURL}}baseurl={{.BaseURL}}
{{end}}{{if .MirrorList}}mirrorlist={{.MirrorList}}
{{end}}enabled={{if .Enabled}}1{{else}}0{{end}}
gpgcheck={{if .GPGCheck}}1{{else}}0{{end}}
{{if .GPGKey}}gpgkey={{.GPGKey}}
{{end}}`))

// RenderYumRepo renders the .repo file of a repository.
func RenderYumRepo(name string, props YumRepositoryProperties) ([]byte, error) {
	var buf bytes.Buffer
	err := yumRepoTemplate.Execute(&buf, struct {
		Name string
		YumRepositoryProperties
	}{name, props})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RepoPath returns the .repo file of the named repository.
func RepoPath(name string) string {
	return YumReposDir + "/" + name + ".repo"
}

// YumRepositoryProvider writes yum repository definitions.
type YumRepositoryProvider struct {
	shell engine.Shell
}

// NewYumRepositoryProvider creates a yum repository provider.
func NewYumRepositoryProvider(shell engine.Shell) *YumRepositoryProvider {
	return &YumRepositoryProvider{shell: shell}
}

// Name implements engine.Provider.
func (p *YumRepositoryProvider) Name() string {
	return YumRepositoryProviderName
}

// Apply implements engine.Provider.
func (p *YumRepositoryProvider) Apply(ctx context.Context, r *engine.Resource, action engine.Action) (*engine.ApplyResult, error) {
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

	var props YumRepositoryProperties
	if err := r.DecodeProperties(&props); err != nil {
		return nil, err
	}
	if props.BaseURL == "" && props.MirrorList == "" {
		return nil, engine.NewPermanentError("yum repository needs a baseurl or a mirrorlist", nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(r.Ref.String())
	}

	content, err := RenderYumRepo(r.Ref.Name, props)
	if err != nil {
		return nil, engine.NewPermanentError("failed to render repository file", err).
			WithResource(r.Ref.String())
	}
	repoPath := RepoPath(r.Ref.Name)
	changed, err := ensureFile(ctx, p.shell, repoPath, content, 0o644)
	if err != nil {
		return nil, err
	}
	if !changed {
		return &engine.ApplyResult{Message: "up_to_date"}, nil
	}

	if _, err := runChecked(ctx, p.shell, r.Ref, "yum", "-q", "-y", "makecache",
		"--disablerepo=*", "--enablerepo="+r.Ref.Name); err != nil {
		return nil, discardFile(ctx, p.shell, r.Ref, repoPath, err)
	}
	return &engine.ApplyResult{Changed: true, Message: "added"}, nil
}
