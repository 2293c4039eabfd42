package resources

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

type fakeProvider struct {
	name    string
	applied []string
	err     error
	changed bool
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Apply(_ context.Context, r *engine.Resource, action engine.Action) (*engine.ApplyResult, error) {
	p.applied = append(p.applied, r.Ref.String()+":"+string(action))
	if p.err != nil {
		return nil, p.err
	}
	return &engine.ApplyResult{Changed: p.changed, Message: "ok"}, nil
}

func newTestCollection(t *testing.T, opts ...Option) (*Collection, *fakeProvider, *fakeProvider) {
	t.Helper()
	pkg := &fakeProvider{name: "package", changed: true}
	repo := &fakeProvider{name: "apt_repository"}
	return NewCollection(NewProviderSet(pkg, repo), opts...), pkg, repo
}

func TestCollection_DeclareLookup(t *testing.T) {
	c, _, _ := newTestCollection(t)

	h, err := c.Declare(Declaration{
		Ref:        engine.PerconaRepository,
		Provider:   "apt_repository",
		Action:     engine.ActionAdd,
		Properties: map[string]string{"uri": "http://repo.percona.com/apt"},
		DeclaredBy: "mysql::percona_repo",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.PerconaRepository, h.Ref())

	got, err := c.Lookup(engine.KindRepository, "percona")
	require.NoError(t, err)
	assert.Equal(t, h, got)

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, engine.ResourceStatusDeclared, all[0].Status)
	assert.JSONEq(t, `{"uri":"http://repo.percona.com/apt"}`, string(all[0].Properties))
}

func TestCollection_LookupMissing(t *testing.T) {
	c, _, _ := newTestCollection(t)

	_, err := c.Lookup(engine.KindRepository, "percona")
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
	assert.True(t, engine.IsPermanent(err))

	// kind is part of the key
	_, err = c.Declare(Declaration{Ref: engine.PackageRef("percona"), Provider: "package"})
	require.NoError(t, err)
	_, err = c.Lookup(engine.KindRepository, "percona")
	assert.True(t, engine.IsNotFound(err))
}

func TestCollection_DeclareDuplicate(t *testing.T) {
	c, _, _ := newTestCollection(t)

	_, err := c.Declare(Declaration{Ref: engine.PackageRef("mysql-client"), Provider: "package", DeclaredBy: "mysql::client"})
	require.NoError(t, err)

	_, err = c.Declare(Declaration{Ref: engine.PackageRef("mysql-client"), Provider: "package"})
	require.Error(t, err)
	assert.True(t, engine.IsConflict(err))
	assert.ErrorIs(t, err, &engine.EngineError{Class: engine.ErrorClassConflict, Code: engine.ErrCodeAlreadyExists})
}

func TestCollection_DeclareInvalid(t *testing.T) {
	c, _, _ := newTestCollection(t)

	tests := []Declaration{
		{Ref: engine.ResourceRef{Kind: "service", Name: "mysql"}, Provider: "service"},
		{Ref: engine.ResourceRef{Kind: engine.KindPackage}, Provider: "package"},
		{Ref: engine.PackageRef("mysql-client")},
		{Ref: engine.PackageRef("x"), Provider: "package", Properties: make(chan int)},
	}
	for _, d := range tests {
		_, err := c.Declare(d)
		require.Error(t, err, "%+v", d)
		assert.True(t, engine.IsPermanent(err))
	}
	assert.Equal(t, 0, c.Len())
}

func TestCollection_Activate(t *testing.T) {
	var observed []engine.Activation
	observer := engine.ActivationObserverFunc(func(_ context.Context, a *engine.Activation) {
		observed = append(observed, *a)
	})

	c, pkg, repo := newTestCollection(t, WithObserver(observer), WithRunID("run-1"))

	repoH, err := c.Declare(Declaration{Ref: engine.PerconaRepository, Provider: "apt_repository", Action: engine.ActionAdd})
	require.NoError(t, err)
	_, err = c.Declare(Declaration{Ref: engine.PackageRef("mysql-client"), Provider: "package", Action: engine.ActionInstall})
	require.NoError(t, err)

	require.NoError(t, c.Activate(context.Background(), repoH))
	assert.Equal(t, []string{"repository[percona]:add"}, repo.applied)
	assert.Empty(t, pkg.applied)
	assert.True(t, c.Activated(engine.PerconaRepository))

	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, engine.PackageRef("mysql-client"), pending[0].Ref())

	c.SetPhase(engine.PhaseConverge)
	require.NoError(t, c.Activate(context.Background(), pending[0]))
	assert.Equal(t, []string{"package[mysql-client]:install"}, pkg.applied)
	assert.Empty(t, c.Pending())

	journal := c.Journal()
	require.Len(t, journal, 2)
	assert.Equal(t, 1, journal[0].Seq)
	assert.Equal(t, engine.PhaseCompile, journal[0].Phase)
	assert.False(t, journal[0].Changed)
	assert.Equal(t, 2, journal[1].Seq)
	assert.Equal(t, engine.PhaseConverge, journal[1].Phase)
	assert.True(t, journal[1].Changed)
	assert.Equal(t, "run-1", journal[1].RunID)
	assert.Equal(t, journal, observed)

	for _, r := range c.All() {
		assert.Equal(t, engine.ResourceStatusActive, r.Status)
	}
}

func TestCollection_ActivateErrorPropagatesUnmodified(t *testing.T) {
	c, pkg, _ := newTestCollection(t)
	providerErr := errors.New("E: Unable to locate package mysql-client")
	pkg.err = providerErr

	h, err := c.Declare(Declaration{Ref: engine.PackageRef("mysql-client"), Provider: "package", Action: engine.ActionInstall})
	require.NoError(t, err)

	err = c.Activate(context.Background(), h)
	assert.Same(t, providerErr, err)

	journal := c.Journal()
	require.Len(t, journal, 1)
	assert.Equal(t, providerErr.Error(), journal[0].Error)
	assert.Equal(t, engine.ResourceStatusFailed, c.All()[0].Status)
}

func TestCollection_ActivateUnknownProvider(t *testing.T) {
	c, _, _ := newTestCollection(t)

	h, err := c.Declare(Declaration{Ref: engine.PerconaGPGKey, Provider: "yum_key", Action: engine.ActionAdd})
	require.NoError(t, err)

	err = c.Activate(context.Background(), h)
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
}

func TestCollection_ActivateForeignHandle(t *testing.T) {
	c, _, _ := newTestCollection(t)

	err := c.Activate(context.Background(), engine.NewResourceHandle(engine.PerconaRepository, 0))
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
}

func TestCollection_DryRun(t *testing.T) {
	c, pkg, _ := newTestCollection(t, WithDryRun(true))

	h, err := c.Declare(Declaration{Ref: engine.PackageRef("mysql-client"), Provider: "package", Action: engine.ActionInstall})
	require.NoError(t, err)

	require.NoError(t, c.Activate(context.Background(), h))
	assert.Empty(t, pkg.applied)

	journal := c.Journal()
	require.Len(t, journal, 1)
	assert.True(t, journal[0].DryRun)
	assert.Equal(t, "would install", journal[0].Message)
}

func TestProviderSet(t *testing.T) {
	ps := NewProviderSet(&fakeProvider{name: "package"}, &fakeProvider{name: "gem"})
	assert.Equal(t, []string{"gem", "package"}, ps.Names())

	_, err := ps.Get("yum_key")
	assert.True(t, engine.IsNotFound(err))
}

func TestGemInstaller(t *testing.T) {
	gem := &fakeProvider{name: "gem", changed: true}
	c := NewCollection(NewProviderSet(gem))
	installer := NewGemInstaller(c, "gem", "mysql::ruby")

	require.NoError(t, installer.Install(context.Background(), "mysql"))
	assert.Equal(t, []string{"gem[mysql]:install"}, gem.applied)

	all := c.All()
	require.Len(t, all, 1)
	assert.Equal(t, "mysql::ruby", all[0].DeclaredBy)

	// a second install reuses the declaration
	require.NoError(t, installer.Install(context.Background(), "mysql"))
	assert.Len(t, gem.applied, 2)
	assert.Equal(t, 1, c.Len())

	gem.err = errors.New("ERROR:  Failed to build gem native extension.")
	err := installer.Install(context.Background(), "mysql")
	assert.Same(t, gem.err, err)
}
