package policy

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const siteRego = `# Site policy: only debian nodes.
# Reported as a warning.
package site.platform

import rego.v1

deny contains msg if {
	input.node.platform_family != "debian"
	msg := "site runs debian only"
}`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoader_RegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "debian-only.rego")
	writeFile(t, path, siteRego)

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, policies, 1)

	p := policies[0]
	assert.Equal(t, "debian-only", p.Name)
	assert.Equal(t, "Site policy: only debian nodes. Reported as a warning.", p.Description)
	assert.Equal(t, SeverityWarning, p.Severity)
	assert.True(t, p.Enabled)
	assert.False(t, p.Builtin)
	assert.Equal(t, path, p.Source)
	assert.Equal(t, siteRego, p.Rego)
}

func TestLoader_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strict.json")
	writeFile(t, path, `{
		"description": "strict",
		"severity": "error",
		"builtin": true,
		"rego": "package strict\n\nimport rego.v1\n\ndeny contains \"no\" if { false }"
	}`)

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{path})
	require.NoError(t, err)
	require.Len(t, policies, 1)

	p := policies[0]
	assert.Equal(t, "strict", p.Name)
	assert.Equal(t, SeverityError, p.Severity)
	assert.True(t, p.Enabled)
	assert.False(t, p.Builtin, "files cannot claim to be built in")
}

func TestLoader_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), siteRego)
	writeFile(t, filepath.Join(dir, "nested", "b.rego"), siteRego)
	writeFile(t, filepath.Join(dir, "README.md"), "# not a policy")

	policies, err := NewLoader(zerolog.Nop()).LoadFromPaths(context.Background(), []string{dir})
	require.NoError(t, err)

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	assert.ElementsMatch(t, []string{"a", "b"}, names)
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())

	_, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")})
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	writeFile(t, bad, "{not json")
	_, err = loader.LoadFromPaths(context.Background(), []string{bad})
	assert.Error(t, err)

	other := filepath.Join(dir, "policy.txt")
	writeFile(t, other, "x")
	_, err = loader.LoadFromPaths(context.Background(), []string{other})
	assert.Error(t, err)
}

func TestEngine_LoadPaths(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "debian-only.rego"), siteRego)

	eng := newTestEngine(t)
	require.NoError(t, eng.LoadPaths(context.Background(), []string{dir}))

	result, err := eng.Evaluate(context.Background(), NewInput(rubyRun(), map[string]interface{}{"platform_family": "rhel"}))
	require.NoError(t, err)

	got := violationsOf(result, "debian-only")
	require.Len(t, got, 1)
	assert.Equal(t, "site runs debian only", got[0].Message)
	assert.Equal(t, string(SeverityWarning), got[0].Severity)
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.rego"), siteRego)

	loader := NewLoader(zerolog.Nop())
	loader.reloadDelay = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu       sync.Mutex
		reloaded [][]Policy
	)
	err := loader.Watch(ctx, []string{dir}, func(p []Policy) error {
		mu.Lock()
		defer mu.Unlock()
		reloaded = append(reloaded, p)
		return nil
	})
	require.NoError(t, err)
	defer func() { _ = loader.StopWatching() }()

	writeFile(t, filepath.Join(dir, "b.rego"), siteRego)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloaded) > 0 && len(reloaded[len(reloaded)-1]) == 2
	}, 5*time.Second, 20*time.Millisecond)
}
