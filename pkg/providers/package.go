package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// PackageProviderName is the provider name of native packages.
const PackageProviderName = "package"

// aptOptions keep apt-get quiet and non-interactive, keeping existing
// configuration files on upgrade.
var aptOptions = []string{
	"--option=Dpkg::Options::=--force-confold",
	"--option=Dpkg::options::=--force-unsafe-io",
	"--assume-yes",
	"--quiet",
}

// PackageProperties configures a package resource.
type PackageProperties struct {
	// PackageName overrides the resource name as the package to install.
	PackageName string `json:"package_name,omitempty"`

	// Version pins the version to install.
	Version string `json:"version,omitempty"`

	// Options are extra package manager arguments.
	Options []string `json:"options,omitempty"`
}

// PackageProvider installs native packages with the platform's package
// manager.
type PackageProvider struct {
	shell   engine.Shell
	manager string
}

// NewPackageProvider creates a package provider for the platform family.
func NewPackageProvider(shell engine.Shell, platformFamily string) *PackageProvider {
	return &PackageProvider{shell: shell, manager: PackageManager(platformFamily)}
}

// PackageManager returns the package manager of a platform family, or ""
// when the family is not supported.
func PackageManager(platformFamily string) string {
	switch platformFamily {
	case "debian":
		return "apt"
	case "rhel", "amazon":
		return "yum"
	case "fedora":
		return "dnf"
	case "suse":
		return "zypper"
	default:
		return ""
	}
}

// Name implements engine.Provider.
func (p *PackageProvider) Name() string {
	return PackageProviderName
}

// Apply implements engine.Provider.
func (p *PackageProvider) Apply(ctx context.Context, r *engine.Resource, action engine.Action) (*engine.ApplyResult, error) {
	switch action {
	case engine.ActionNothing:
		return &engine.ApplyResult{Message: "nothing"}, nil
	case engine.ActionInstall:
	default:
		return nil, unsupportedAction(r.Ref, p.Name(), action)
	}

	if p.manager == "" {
		return nil, engine.NewPermanentError("no package manager for this platform", nil).
			WithCode(engine.ErrCodeProviderFailed).
			WithResource(r.Ref.String())
	}

	var props PackageProperties
	if err := r.DecodeProperties(&props); err != nil {
		return nil, err
	}
	name := props.PackageName
	if name == "" {
		name = r.Ref.Name
	}

	installed, version, err := p.installedVersion(ctx, name)
	if err != nil {
		return nil, err
	}
	if installed && (props.Version == "" || props.Version == version) {
		return &engine.ApplyResult{Message: "already_present", Version: version}, nil
	}

	cmd, args := p.installCommand(name, props)
	if _, err := runChecked(ctx, p.shell, r.Ref, cmd, args...); err != nil {
		return nil, err
	}

	_, version, _ = p.installedVersion(ctx, name)
	return &engine.ApplyResult{Changed: true, Message: "installed", Version: version}, nil
}

func (p *PackageProvider) installedVersion(ctx context.Context, name string) (bool, string, error) {
	var (
		res *engine.ExecResult
		err error
	)
	switch p.manager {
	case "apt":
		res, err = p.shell.Run(ctx, "dpkg-query", "-W", "-f=${Status} ${Version}", name)
	default:
		res, err = p.shell.Run(ctx, "rpm", "-q", "--queryformat", "%{VERSION}-%{RELEASE}", name)
	}
	if err != nil {
		return false, "", err
	}
	if !res.Success() {
		return false, "", nil
	}

	out := strings.TrimSpace(res.Stdout)
	if p.manager == "apt" {
		// "install ok installed 5.7.42-0ubuntu0.18.04.1"
		fields := strings.Fields(out)
		if len(fields) < 4 || fields[2] != "installed" {
			return false, "", nil
		}
		return true, fields[3], nil
	}
	return true, out, nil
}

func (p *PackageProvider) installCommand(name string, props PackageProperties) (string, []string) {
	spec := name
	switch {
	case props.Version == "":
	case p.manager == "apt":
		spec = fmt.Sprintf("%s=%s", name, props.Version)
	case p.manager == "zypper":
		spec = fmt.Sprintf("%s=%s", name, props.Version)
	default:
		spec = fmt.Sprintf("%s-%s", name, props.Version)
	}

	switch p.manager {
	case "apt":
		args := []string{"DEBIAN_FRONTEND=noninteractive", "apt-get"}
		args = append(args, aptOptions...)
		args = append(args, props.Options...)
		args = append(args, "install", spec)
		return "env", args
	case "zypper":
		args := append([]string{"--non-interactive", "install"}, props.Options...)
		return "zypper", append(args, spec)
	default:
		args := append([]string{"-y", "install"}, props.Options...)
		return p.manager, append(args, spec)
	}
}
