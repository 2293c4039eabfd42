package resources

import (
	"context"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// GemInstaller installs database drivers as gem resources of a collection,
// so the installation shows up in the activation journal.
type GemInstaller struct {
	collection *Collection
	provider   string
	declaredBy string
}

var _ engine.DriverInstaller = (*GemInstaller)(nil)

// NewGemInstaller creates an installer that declares gems with the given
// provider name on behalf of declaredBy.
func NewGemInstaller(c *Collection, provider, declaredBy string) *GemInstaller {
	return &GemInstaller{collection: c, provider: provider, declaredBy: declaredBy}
}

// Install declares gem[name] unless it already exists and activates it.
func (g *GemInstaller) Install(ctx context.Context, name string) error {
	h, err := g.collection.Lookup(engine.KindGem, name)
	if engine.IsNotFound(err) {
		h, err = g.collection.Declare(Declaration{
			Ref:        engine.ResourceRef{Kind: engine.KindGem, Name: name},
			Provider:   g.provider,
			Action:     engine.ActionInstall,
			DeclaredBy: g.declaredBy,
		})
	}
	if err != nil {
		return err
	}
	return g.collection.Activate(ctx, h)
}
