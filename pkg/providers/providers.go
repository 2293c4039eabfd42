// Package providers converges declared resources on a node through an
// engine.Shell. Each provider checks the node first and only changes it
// when the resource is missing or stale.
package providers

import (
	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Builtin returns every built-in provider for a node of the given
// platform family.
func Builtin(shell engine.Shell, platformFamily, gemBinary string) []engine.Provider {
	return []engine.Provider{
		NewPackageProvider(shell, platformFamily),
		NewAptRepositoryProvider(shell),
		NewYumKeyProvider(shell),
		NewYumRepositoryProvider(shell),
		NewGemProvider(shell, gemBinary),
	}
}
