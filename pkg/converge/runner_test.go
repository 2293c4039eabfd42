package converge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-mysql/pkg/config"
	"github.com/openfroyo/froyo-mysql/pkg/engine"
	"github.com/openfroyo/froyo-mysql/pkg/facts"
	"github.com/openfroyo/froyo-mysql/pkg/policy"
	"github.com/openfroyo/froyo-mysql/pkg/providers"
	"github.com/openfroyo/froyo-mysql/pkg/stores"
)

const debianRelease = `NAME="Debian GNU/Linux"
VERSION_ID="12"
VERSION_CODENAME=bookworm
ID=debian
`

const rockyRelease = `NAME="Rocky Linux"
ID="rocky"
ID_LIKE="rhel centos fedora"
VERSION_ID="9.3"
`

type fakeShell struct {
	release string
}

func (s *fakeShell) Target() string { return "deploy@db1:22" }

func (s *fakeShell) Run(_ context.Context, name string, _ ...string) (*engine.ExecResult, error) {
	if name == "hostname" {
		return &engine.ExecResult{Stdout: "db1\n"}, nil
	}
	return &engine.ExecResult{ExitCode: 127}, nil
}

func (s *fakeShell) ReadFile(_ context.Context, path string) ([]byte, error) {
	if path == "/etc/os-release" {
		return []byte(s.release), nil
	}
	return nil, fmt.Errorf("read %s: %w", path, os.ErrNotExist)
}

func (s *fakeShell) WriteFile(context.Context, string, []byte, os.FileMode) error {
	return errors.New("read only")
}

type fakeProvider struct {
	name    string
	applied *[]string
	fail    map[string]error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Apply(_ context.Context, r *engine.Resource, _ engine.Action) (*engine.ApplyResult, error) {
	*p.applied = append(*p.applied, r.Ref.String())
	if err := p.fail[r.Ref.String()]; err != nil {
		return nil, err
	}
	return &engine.ApplyResult{Changed: true, Message: "ok"}, nil
}

type fixture struct {
	runner  *Runner
	store   *stores.SQLiteStore
	loader  *config.Loader
	applied []string
	fail    map[string]error
	family  string
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	f := &fixture{store: store, loader: config.NewLoader(), fail: map[string]error{}}

	var seq int32
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	base := []Option{
		WithStore(store),
		WithProviders(func(_ engine.Shell, family, _ string) []engine.Provider {
			f.family = family
			var set []engine.Provider
			for _, name := range []string{
				providers.PackageProviderName,
				providers.AptRepositoryProviderName,
				providers.YumKeyProviderName,
				providers.YumRepositoryProviderName,
				providers.GemProviderName,
			} {
				set = append(set, &fakeProvider{name: name, applied: &f.applied, fail: f.fail})
			}
			return set
		}),
		WithIDGenerator(func() string { return fmt.Sprintf("run-%d", atomic.AddInt32(&seq, 1)) }),
		WithClock(func() time.Time { return clock }),
	}
	f.runner = NewRunner(f.loader, facts.NewCollector(facts.WithCache(store)), append(base, opts...)...)
	return f
}

func (f *fixture) node(t *testing.T, content string) *config.Node {
	t.Helper()
	node, err := f.loader.Parse(context.Background(), "db1.yaml", []byte(content))
	require.NoError(t, err)
	return node
}

func (f *fixture) events(t *testing.T, runID string) []engine.EventType {
	t.Helper()
	events, err := f.store.GetEvents(context.Background(), &runID, nil, 1000, 0)
	require.NoError(t, err)
	out := make([]engine.EventType, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func refs(journal []engine.Activation) []string {
	out := make([]string, len(journal))
	for i, a := range journal {
		out[i] = a.Ref.String()
	}
	return out
}

func TestConverge_PerconaOnDebian(t *testing.T) {
	f := newFixture(t)
	node := f.node(t, "run_list:\n  - recipe[mysql::percona_repo]\n  - recipe[mysql::ruby]\n")

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: debianRelease}})
	require.NoError(t, err)

	assert.Equal(t, "debian", f.family)
	assert.Equal(t, engine.RunStatusSucceeded, run.Status)
	assert.Equal(t, "db1", run.Node)
	assert.Equal(t, []string{"mysql::percona_repo", "mysql::ruby", "build-essential::default", "mysql::client"}, run.LoadedRecipes)
	assert.Equal(t, f.applied, refs(run.Activations))

	tail := f.applied[len(f.applied)-4:]
	assert.Equal(t, []string{"repository[percona]", "package[mysql-client]", "package[libmysqlclient-dev]", "gem[mysql]"}, tail)
	for _, a := range run.Activations {
		assert.Equal(t, engine.PhaseCompile, a.Phase, a.Ref.String())
	}
	assert.Equal(t, run.Summary.Declared, run.Summary.Activated)
	assert.Zero(t, run.Summary.Failed)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusSucceeded, stored.Status)
	assert.Equal(t, "deploy@db1:22", stored.Target)

	activations, err := f.store.ListActivations(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, activations, len(run.Activations))

	events := f.events(t, run.ID)
	assert.Equal(t, engine.EventTypeRunStarted, events[0])
	assert.Equal(t, engine.EventTypeRunCompleted, events[len(events)-1])
	assert.Contains(t, events, engine.EventTypeRecipeLoaded)
	assert.Contains(t, events, engine.EventTypeResourceActivated)

	cached, err := f.store.GetFacts(context.Background(), "deploy@db1:22")
	require.NoError(t, err)
	assert.Equal(t, "deploy@db1:22", cached.TargetID)
}

func TestConverge_MariaDBOnRHELActivatesRepositoryInConvergePhase(t *testing.T) {
	f := newFixture(t)
	node := f.node(t, "run_list: [\"mysql::ruby\"]\nattributes:\n  mysql:\n    implementation: mariadb\n")

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: rockyRelease}})
	require.NoError(t, err)

	assert.Equal(t, "rhel", f.family)
	last := run.Activations[len(run.Activations)-1]
	assert.Equal(t, engine.MariaDBRepository, last.Ref)
	assert.Equal(t, engine.PhaseConverge, last.Phase)

	var gemIdx int
	for i, a := range run.Activations {
		if a.Ref.Kind == engine.KindGem {
			gemIdx = i
			assert.Equal(t, engine.PhaseCompile, a.Phase)
		}
	}
	assert.Less(t, gemIdx, len(run.Activations)-1)
	assert.Contains(t, run.LoadedRecipes, "mysql::_mariadb_repo")
}

func TestConverge_ProviderErrorFailsRun(t *testing.T) {
	boom := errors.New("E: Unable to locate package libmysqlclient-dev")
	f := newFixture(t)
	f.fail["package[libmysqlclient-dev]"] = boom
	node := f.node(t, "run_list: [\"mysql::ruby\"]\n")

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: debianRelease}})
	assert.Same(t, boom, err)
	require.NotNil(t, run)
	assert.Equal(t, engine.RunStatusFailed, run.Status)
	assert.Equal(t, boom.Error(), run.Error)
	assert.Equal(t, 1, run.Summary.Failed)
	assert.NotContains(t, f.applied, "gem[mysql]")

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusFailed, stored.Status)

	events := f.events(t, run.ID)
	assert.Contains(t, events, engine.EventTypeResourceFailed)
	assert.Equal(t, engine.EventTypeRunFailed, events[len(events)-1])
}

func TestConverge_MissingPackagesOnUnknownFamily(t *testing.T) {
	f := newFixture(t)
	node := f.node(t, "run_list: [\"mysql::ruby\"]\n")

	run, err := f.runner.Converge(context.Background(), Request{
		Node:  node,
		Shell: &fakeShell{release: "ID=arch\nNAME=\"Arch Linux\"\n"},
	})
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
	assert.Equal(t, engine.RunStatusFailed, run.Status)
	assert.Empty(t, f.applied)
}

func TestConverge_DryRun(t *testing.T) {
	f := newFixture(t)
	node := f.node(t, "run_list: [\"mysql::ruby\"]\n")

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: debianRelease}, DryRun: true})
	require.NoError(t, err)

	assert.True(t, run.DryRun)
	assert.Empty(t, f.applied)
	require.NotEmpty(t, run.Activations)
	for _, a := range run.Activations {
		assert.True(t, a.DryRun)
		assert.False(t, a.Changed)
	}
	assert.Equal(t, "gem[mysql]", run.Activations[len(run.Activations)-1].Ref.String())
}

func TestConverge_UnknownRecipe(t *testing.T) {
	f := newFixture(t)
	node := f.node(t, "run_list: [\"mysql::server\"]\n")

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: debianRelease}})
	require.Error(t, err)
	assert.True(t, engine.IsNotFound(err))
	assert.Empty(t, run.LoadedRecipes)
	assert.Empty(t, run.Activations)
}

func TestConverge_Cancelled(t *testing.T) {
	f := newFixture(t)
	node := f.node(t, "run_list: [\"mysql::ruby\"]\n")

	f.fail["package[mysql-client]"] = fmt.Errorf("apt-get interrupted: %w", context.Canceled)

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: debianRelease}})
	require.Error(t, err)
	assert.Equal(t, engine.RunStatusCancelled, run.Status)

	stored, gerr := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, gerr)
	assert.Equal(t, engine.RunStatusCancelled, stored.Status)
}

func TestConverge_PolicyWarningsAreRecorded(t *testing.T) {
	policies, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)
	f := newFixture(t, WithPolicy(policies))
	node := f.node(t, "run_list: [\"mysql::percona_repo\", \"mysql::ruby\"]\nattributes:\n  mysql:\n    implementation: galera\n")

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: debianRelease}})
	require.NoError(t, err)
	require.NotNil(t, run.Policy)
	assert.True(t, run.Policy.Allowed)
	require.Len(t, run.Policy.Violations, 1)
	assert.Equal(t, policy.RepositoryOverlapPolicy, run.Policy.Violations[0].Policy)
	assert.Contains(t, f.events(t, run.ID), engine.EventTypePolicyViolation)
}

func TestConverge_BlockingPolicyFailsRun(t *testing.T) {
	policies := policy.New(zerolog.Nop())
	require.NoError(t, policies.Load(context.Background(), []policy.Policy{{
		Name:     "no-debian",
		Severity: policy.SeverityCritical,
		Enabled:  true,
		Rego: `package froyo.policies.nodebian

deny contains msg if {
	input.node.platform_family == "debian"
	msg := {"message": "debian is not allowed"}
}
`,
	}}))

	f := newFixture(t, WithPolicy(policies))
	node := f.node(t, "run_list: [\"mysql::ruby\"]\n")

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: debianRelease}})
	require.Error(t, err)

	var engErr *engine.EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, engine.ErrCodePolicyDenied, engErr.Code)
	assert.Equal(t, engine.RunStatusFailed, run.Status)
	assert.False(t, run.Policy.Allowed)
	// resources were already converged
	assert.Contains(t, f.applied, "gem[mysql]")
}

func TestConverge_AttributeScriptOverride(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "impl.star"), []byte(`
override = {"mysql": {"implementation": "galera"}}
`), 0o644))
	path := filepath.Join(dir, "db1.yaml")
	require.NoError(t, os.WriteFile(path, []byte("run_list: [\"mysql::ruby\"]\nattribute_scripts: [impl.star]\n"), 0o644))

	f := newFixture(t)
	node, err := f.loader.LoadFile(context.Background(), path)
	require.NoError(t, err)

	run, err := f.runner.Converge(context.Background(), Request{Node: node, Shell: &fakeShell{release: debianRelease}})
	require.NoError(t, err)
	assert.Contains(t, refs(run.Activations), "repository[mariadb]")
	assert.Contains(t, refs(run.Activations), "package[mariadb-client]")
}
