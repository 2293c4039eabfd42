// Package local runs converge commands on the machine froyo-mysql itself
// runs on.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Shell implements engine.Shell with os/exec and the local filesystem.
type Shell struct {
	root   string
	env    []string
	logger zerolog.Logger
}

var _ engine.Shell = (*Shell)(nil)

// Option configures a Shell.
type Option func(*Shell)

// WithRoot prefixes every file path, for running against a chroot or a
// test directory. Commands are not affected.
func WithRoot(root string) Option {
	return func(s *Shell) { s.root = root }
}

// WithEnv appends environment variables to every command.
func WithEnv(env ...string) Option {
	return func(s *Shell) { s.env = append(s.env, env...) }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Shell) { s.logger = logger }
}

// NewShell creates a local shell.
func NewShell(opts ...Option) *Shell {
	s := &Shell{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Target implements engine.Shell.
func (s *Shell) Target() string {
	return "local"
}

// Run implements engine.Shell. A command that starts and exits non-zero
// is reported through ExecResult.ExitCode, not as an error.
func (s *Shell) Run(ctx context.Context, name string, args ...string) (*engine.ExecResult, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	if len(s.env) > 0 {
		cmd.Env = append(os.Environ(), s.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := &engine.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	s.logger.Debug().
		Str("command", name).
		Strs("args", args).
		Dur("duration", result.Duration).
		Err(err).
		Msg("command completed")

	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, engine.NewTransientError("command cancelled", ctx.Err()).
			WithCode(engine.ErrCodeTimeout).
			WithDetail("command", name)
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	return nil, engine.NewPermanentError(fmt.Sprintf("failed to start %s", name), err).
		WithCode(engine.ErrCodeCommandFailed).
		WithDetail("command", name)
}

func (s *Shell) path(p string) string {
	if s.root == "" {
		return p
	}
	return filepath.Join(s.root, p)
}

// ReadFile implements engine.Shell.
func (s *Shell) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(s.path(p))
}

// WriteFile implements engine.Shell. Parent directories are created.
func (s *Shell) WriteFile(ctx context.Context, p string, data []byte, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full := s.path(p)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return engine.NewPermanentError("failed to create directory", err).WithDetail("path", p)
	}
	if err := os.WriteFile(full, data, mode); err != nil {
		return engine.NewPermanentError("failed to write file", err).WithDetail("path", p)
	}
	return os.Chmod(full, mode)
}
