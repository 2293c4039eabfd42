package recipe

import (
	"context"

	"github.com/openfroyo/froyo-mysql/pkg/config"
	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/providers"
	"github.com/openfroyo/froyo-mysql/pkg/resources"
)

// toolchainPackages are the compiler packages of build-essential::default.
var toolchainPackages = map[string][]string{
	"debian": {"autoconf", "binutils-doc", "bison", "build-essential", "flex", "gettext", "ncurses-dev"},
	"rhel":   {"autoconf", "bison", "flex", "gcc", "gcc-c++", "gettext", "kernel-devel", "make", "m4", "ncurses-devel", "patch"},
	"fedora": {"autoconf", "bison", "flex", "gcc", "gcc-c++", "gettext", "kernel-devel", "make", "m4", "ncurses-devel", "patch"},
	"amazon": {"autoconf", "bison", "flex", "gcc", "gcc-c++", "gettext", "kernel-devel", "make", "m4", "ncurses-devel", "patch"},
	"suse":   {"autoconf", "bison", "flex", "gcc", "gcc-c++", "kernel-default-devel", "make", "m4"},
}

// buildEssentialRecipe declares the compiler toolchain. With
// build-essential.compile_time set, the packages are installed while the
// recipe loads so native gem extensions can build later in the same run.
func buildEssentialRecipe(ctx context.Context, rc *RunContext) error {
	family, err := rc.Node.String(config.AttrPlatformFamily)
	if err != nil {
		return err
	}

	pkgs, ok := toolchainPackages[family]
	if !ok {
		rc.logger.Warn().Str("platform_family", family).Msg("no toolchain packages known for platform family")
		return nil
	}

	handles, err := declarePackages(rc, pkgs, BuildEssential)
	if err != nil {
		return err
	}

	if !rc.Node.Bool(config.AttrBuildEssentialCompileTime) {
		return nil
	}
	for _, h := range handles {
		if err := rc.Resources.Activate(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// clientRecipe declares the MySQL client packages. They converge after
// compilation unless a later recipe activates them first. A missing
// package list declares nothing here; mysql::ruby reports it when it
// reads the list.
func clientRecipe(_ context.Context, rc *RunContext) error {
	pkgs, err := rc.Node.Strings(config.AttrClientPackages)
	if engine.IsNotFound(err) {
		rc.logger.Debug().Str("attribute", config.AttrClientPackages).Msg("attribute not set, no client packages declared")
		return nil
	}
	if err != nil {
		return err
	}
	_, err = declarePackages(rc, pkgs, Client)
	return err
}

// perconaRepoRecipe declares the Percona repository for the platform.
func perconaRepoRecipe(_ context.Context, rc *RunContext) error {
	family, err := rc.Node.String(config.AttrPlatformFamily)
	if err != nil {
		return err
	}

	switch family {
	case "debian":
		props, err := aptProperties(rc.Node, "mysql.percona.apt")
		if err != nil {
			return err
		}
		return declare(rc, engine.PerconaRepository, providers.AptRepositoryProviderName, engine.ActionAdd, props, PerconaRepo)
	case "rhel":
		gpgKey := rc.Node.StringOr("mysql.percona.yum.gpgkey", "")
		if err := declare(rc, engine.PerconaGPGKey, providers.YumKeyProviderName, engine.ActionAdd,
			providers.YumKeyProperties{URL: gpgKey, Key: "RPM-GPG-KEY-percona"}, PerconaRepo); err != nil {
			return err
		}
		return declare(rc, engine.PerconaRepository, providers.YumRepositoryProviderName, engine.ActionAdd,
			yumProperties(rc.Node, "mysql.percona.yum", "file:///etc/pki/rpm-gpg/RPM-GPG-KEY-percona"), PerconaRepo)
	default:
		rc.logger.Info().Str("platform_family", family).Msg("no Percona repository for platform family")
		return nil
	}
}

// mariadbRepoRecipe declares the MariaDB repository for the platform.
func mariadbRepoRecipe(_ context.Context, rc *RunContext) error {
	family, err := rc.Node.String(config.AttrPlatformFamily)
	if err != nil {
		return err
	}

	switch family {
	case "debian":
		props, err := aptProperties(rc.Node, "mysql.mariadb.apt")
		if err != nil {
			return err
		}
		return declare(rc, engine.MariaDBRepository, providers.AptRepositoryProviderName, engine.ActionAdd, props, MariaDBRepo)
	case "rhel":
		return declare(rc, engine.MariaDBRepository, providers.YumRepositoryProviderName, engine.ActionAdd,
			yumProperties(rc.Node, "mysql.mariadb.yum", rc.Node.StringOr("mysql.mariadb.yum.gpgkey", "")), MariaDBRepo)
	default:
		rc.logger.Info().Str("platform_family", family).Msg("no MariaDB repository for platform family")
		return nil
	}
}

// rubyRecipe installs the MySQL client and the Ruby driver. The toolchain
// is forced to compile time because the driver gem builds a native
// extension against the client headers.
func rubyRecipe(ctx context.Context, rc *RunContext) error {
	rc.Node.Set(config.PrecedenceNormal, config.AttrBuildEssentialCompileTime, true)

	if err := rc.IncludeRecipe(ctx, BuildEssential); err != nil {
		return err
	}
	if err := rc.IncludeRecipe(ctx, Client); err != nil {
		return err
	}

	selector := &Selector{
		Loaded:     rc,
		Attributes: rc.Node,
		Resources:  rc.Resources,
		Includer:   rc,
		Driver:     rc.Driver,
	}
	return selector.Run(ctx)
}

func declare(rc *RunContext, ref engine.ResourceRef, provider string, action engine.Action, props interface{}, by string) error {
	_, err := rc.Resources.Declare(resources.Declaration{
		Ref:        ref,
		Provider:   provider,
		Action:     action,
		Properties: props,
		DeclaredBy: by,
	})
	return err
}

// declarePackages declares install resources for pkgs, skipping names that
// are already declared.
func declarePackages(rc *RunContext, pkgs []string, by string) ([]engine.ResourceHandle, error) {
	handles := make([]engine.ResourceHandle, 0, len(pkgs))
	for _, name := range pkgs {
		if h, err := rc.Resources.Lookup(engine.KindPackage, name); err == nil {
			handles = append(handles, h)
			continue
		}
		h, err := rc.Resources.Declare(resources.Declaration{
			Ref:        engine.PackageRef(name),
			Provider:   providers.PackageProviderName,
			Action:     engine.ActionInstall,
			DeclaredBy: by,
		})
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func aptProperties(node *config.Attributes, prefix string) (providers.AptRepositoryProperties, error) {
	components, err := node.Strings(prefix + ".components")
	if engine.IsNotFound(err) {
		components, err = []string{"main"}, nil
	}
	if err != nil {
		return providers.AptRepositoryProperties{}, err
	}
	uri, err := node.String(prefix + ".uri")
	if err != nil {
		return providers.AptRepositoryProperties{}, err
	}
	return providers.AptRepositoryProperties{
		URI:          uri,
		Distribution: node.StringOr(prefix+".distribution", node.StringOr(config.AttrCodename, "")),
		Components:   components,
		Keyserver:    node.StringOr(prefix+".keyserver", ""),
		Key:          node.StringOr(prefix+".key", ""),
	}, nil
}

func yumProperties(node *config.Attributes, prefix, gpgKey string) providers.YumRepositoryProperties {
	return providers.YumRepositoryProperties{
		Description: node.StringOr(prefix+".description", ""),
		BaseURL:     node.StringOr(prefix+".baseurl", ""),
		MirrorList:  node.StringOr(prefix+".mirrorlist", ""),
		GPGKey:      gpgKey,
		GPGCheck:    gpgKey != "",
		Enabled:     true,
	}
}
