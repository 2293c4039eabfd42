package local

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

func TestShellRun(t *testing.T) {
	shell := NewShell(WithEnv("FROYO_TEST=percona"))
	ctx := context.Background()

	tests := []struct {
		name     string
		cmd      string
		args     []string
		stdout   string
		exitCode int
	}{
		{name: "stdout", cmd: "echo", args: []string{"mysql-client"}, stdout: "mysql-client\n"},
		{name: "exit code", cmd: "sh", args: []string{"-c", "exit 3"}, exitCode: 3},
		{name: "env", cmd: "sh", args: []string{"-c", "echo $FROYO_TEST"}, stdout: "percona\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := shell.Run(ctx, tt.cmd, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.stdout, res.Stdout)
			assert.Equal(t, tt.exitCode, res.ExitCode)
		})
	}
}

func TestShellRunMissingBinary(t *testing.T) {
	_, err := NewShell().Run(context.Background(), "froyo-definitely-missing")
	require.Error(t, err)
	assert.True(t, engine.IsPermanent(err))
}

func TestShellRunCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := NewShell().Run(ctx, "sleep", "5")
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
}

func TestShellFiles(t *testing.T) {
	root := t.TempDir()
	shell := NewShell(WithRoot(root))
	ctx := context.Background()

	_, err := shell.ReadFile(ctx, "/etc/yum.repos.d/percona.repo")
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, shell.WriteFile(ctx, "/etc/yum.repos.d/percona.repo", []byte("[percona]\n"), 0o640))

	data, err := shell.ReadFile(ctx, "/etc/yum.repos.d/percona.repo")
	require.NoError(t, err)
	assert.Equal(t, "[percona]\n", string(data))

	info, err := os.Stat(filepath.Join(root, "etc/yum.repos.d/percona.repo"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
	assert.Equal(t, "local", shell.Target())
}
