package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// maxStderr bounds the stderr kept in error details.
const maxStderr = 2048

// runChecked runs a command and turns a non-zero exit into a permanent
// COMMAND_FAILED error carrying the exit code and stderr.
func runChecked(ctx context.Context, shell engine.Shell, ref engine.ResourceRef, name string, args ...string) (*engine.ExecResult, error) {
	res, err := shell.Run(ctx, name, args...)
	if err != nil {
		return nil, err
	}
	if !res.Success() {
		stderr := strings.TrimSpace(res.Stderr)
		if len(stderr) > maxStderr {
			stderr = stderr[len(stderr)-maxStderr:]
		}
		return res, engine.NewPermanentError(
			fmt.Sprintf("%s exited with status %d", name, res.ExitCode),
			errors.New(firstLine(stderr))).
			WithCode(engine.ErrCodeCommandFailed).
			WithResource(ref.String()).
			WithDetail("command", strings.Join(append([]string{name}, args...), " ")).
			WithDetail("exit_code", res.ExitCode).
			WithDetail("stderr", stderr)
	}
	return res, nil
}

// ensureFile writes content to p unless the file already holds it. It
// reports whether the file changed.
func ensureFile(ctx context.Context, shell engine.Shell, p string, content []byte, mode os.FileMode) (bool, error) {
	current, err := shell.ReadFile(ctx, p)
	switch {
	case err == nil:
		if bytes.Equal(current, content) {
			return false, nil
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return false, fmt.Errorf("failed to read %s: %w", p, err)
	}

	if err := shell.WriteFile(ctx, p, content, mode); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", p, err)
	}
	return true, nil
}

// fileExists reports whether p exists on the node.
func fileExists(ctx context.Context, shell engine.Shell, p string) (bool, error) {
	_, err := shell.ReadFile(ctx, p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to read %s: %w", p, err)
	}
}

// discardFile removes p after a failed follow-up command so the next run
// writes it again and retries. It returns cause, joined with the removal
// error if p could not be removed.
func discardFile(ctx context.Context, shell engine.Shell, ref engine.ResourceRef, p string, cause error) error {
	if _, err := runChecked(context.WithoutCancel(ctx), shell, ref, "rm", "-f", "--", p); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to remove %s: %w", p, err))
	}
	return cause
}

// safeName rejects resource names that would escape their directory.
func safeName(ref engine.ResourceRef) error {
	if ref.Name == "" || ref.Name != path.Base(ref.Name) || strings.HasPrefix(ref.Name, ".") {
		return engine.NewPermanentError("invalid resource name", fmt.Errorf("%q is not a plain file name", ref.Name)).
			WithCode(engine.ErrCodeValidation).
			WithResource(ref.String())
	}
	return nil
}

func firstLine(s string) string {
	if s == "" {
		return "no output"
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func unsupportedAction(ref engine.ResourceRef, provider string, action engine.Action) error {
	return engine.NewPermanentError("unsupported action", fmt.Errorf("%s does not support %q", provider, action)).
		WithCode(engine.ErrCodeValidation).
		WithResource(ref.String()).
		WithOperation(string(action))
}
