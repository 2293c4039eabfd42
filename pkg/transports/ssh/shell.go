package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// Shell runs commands and transfers files on a remote node over one SSH
// connection. It implements engine.Shell.
type Shell struct {
	config *Config
	logger zerolog.Logger

	mu     sync.Mutex
	client *ssh.Client
}

var _ engine.Shell = (*Shell)(nil)

// NewShell creates an unconnected shell.
func NewShell(config *Config, logger zerolog.Logger) (*Shell, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Shell{config: config, logger: logger}, nil
}

// Connect establishes the SSH connection.
func (s *Shell) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	clientConfig, err := s.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := s.config.Address()
	s.logger.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case client := <-connChan:
		s.client = client
		s.logger.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Close closes the connection.
func (s *Shell) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// Target implements engine.Shell.
func (s *Shell) Target() string {
	return s.config.Target()
}

func (s *Shell) getClient() (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil, &TransportError{Op: "session", Err: errors.New("not connected")}
	}
	return s.client, nil
}

// Run implements engine.Shell. Arguments are shell-quoted; with Sudo set
// the command runs under sudo -n.
func (s *Shell) Run(ctx context.Context, name string, args ...string) (*engine.ExecResult, error) {
	return s.run(ctx, s.commandLine(name, args...), nil)
}

func (s *Shell) commandLine(name string, args ...string) string {
	parts := make([]string, 0, len(args)+3)
	if s.config.Sudo {
		parts = append(parts, "sudo", "-n")
	}
	parts = append(parts, quote(name))
	for _, a := range args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func (s *Shell) run(ctx context.Context, cmd string, stdin []byte) (*engine.ExecResult, error) {
	startTime := time.Now()

	client, err := s.getClient()
	if err != nil {
		return nil, transportFailure(err)
	}

	session, err := client.NewSession()
	if err != nil {
		return nil, transportFailure(&TransportError{
			Op:          "execute",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		})
	}
	defer session.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	session.Stdout = &stdoutBuf
	session.Stderr = &stderrBuf
	if stdin != nil {
		session.Stdin = bytes.NewReader(stdin)
	}

	runCtx, cancel := context.WithTimeout(ctx, s.config.CommandTimeout)
	defer cancel()

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-runCtx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		execErr = runCtx.Err()
	case execErr = <-doneChan:
	}

	result := &engine.ExecResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(startTime),
	}

	s.logger.Debug().
		Str("command", cmd).
		Int("stdout_len", len(result.Stdout)).
		Int("stderr_len", len(result.Stderr)).
		Dur("duration", result.Duration).
		Err(execErr).
		Msg("command completed")

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		if errors.Is(execErr, context.DeadlineExceeded) {
			return nil, engine.NewTransientError("command timed out", execErr).
				WithCode(engine.ErrCodeTimeout).
				WithDetail("command", cmd)
		}
		return nil, transportFailure(&TransportError{Op: "execute", Err: execErr, IsTemporary: true})
	}

	return result, nil
}

// quote single-quotes s for a POSIX shell unless it is made only of safe
// characters.
func quote(s string) string {
	if s == "" {
		return "''"
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("-_./=:@,+%", r)) {
			return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
		}
	}
	return s
}

// transportFailure classifies a transport error for the engine.
func transportFailure(err error) error {
	var te *TransportError
	if errors.As(err, &te) && te.IsTemporary {
		return engine.NewTransientError("ssh transport failed", err).WithOperation(te.Op)
	}
	return engine.NewPermanentError("ssh transport failed", err)
}
