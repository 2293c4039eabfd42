package recipe

import (
	"context"

	"github.com/openfroyo/froyo-mysql/pkg/config"
	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Recipe names the selector reacts to.
const (
	PerconaRepo    = "mysql::percona_repo"
	MariaDBRepo    = "mysql::_mariadb_repo"
	Client         = "mysql::client"
	Ruby           = "mysql::ruby"
	BuildEssential = "build-essential::default"
)

// DriverModule is the Ruby driver installed after the client packages.
const DriverModule = "mysql"

// Selector decides which package repositories must be active before the
// MySQL client packages are installed, activates them, installs the
// packages and finally the Ruby driver.
//
// All collaborators are injected. Errors they return are passed through
// unchanged and stop the selector.
type Selector struct {
	Loaded     engine.RecipeInclusionSet
	Attributes engine.Attributes
	Resources  engine.ResourceRegistry
	Includer   engine.RecipeIncluder
	Driver     engine.DriverInstaller
}

// Run executes the selection. The Percona and MariaDB branches are
// independent and may both fire.
func (s *Selector) Run(ctx context.Context) error {
	if s.Loaded.Contains(PerconaRepo) {
		family, err := s.Attributes.String(config.AttrPlatformFamily)
		if err != nil {
			return err
		}
		switch family {
		case "debian":
			if err := s.activate(ctx, engine.PerconaRepository); err != nil {
				return err
			}
		case "rhel":
			if err := s.activate(ctx, engine.PerconaGPGKey); err != nil {
				return err
			}
			if err := s.activate(ctx, engine.PerconaRepository); err != nil {
				return err
			}
		}
	}

	mariadbLoaded := s.Loaded.Contains(MariaDBRepo)
	useMariaDB := mariadbLoaded
	if !useMariaDB {
		implementation, err := s.Attributes.String(config.AttrImplementation)
		if err != nil {
			return err
		}
		useMariaDB = config.IsMariaDBFamily(implementation)
	}
	if useMariaDB {
		if !mariadbLoaded {
			if err := s.Includer.IncludeRecipe(ctx, MariaDBRepo); err != nil {
				return err
			}
		}
		family, err := s.Attributes.String(config.AttrPlatformFamily)
		if err != nil {
			return err
		}
		if family == "debian" {
			if err := s.activate(ctx, engine.MariaDBRepository); err != nil {
				return err
			}
		}
	}

	packages, err := s.Attributes.Strings(config.AttrClientPackages)
	if err != nil {
		return err
	}
	for _, name := range packages {
		if err := s.activate(ctx, engine.PackageRef(name)); err != nil {
			return err
		}
	}

	return s.Driver.Install(ctx, DriverModule)
}

func (s *Selector) activate(ctx context.Context, ref engine.ResourceRef) error {
	h, err := s.Resources.Lookup(ref.Kind, ref.Name)
	if err != nil {
		return err
	}
	return s.Resources.Activate(ctx, h)
}
