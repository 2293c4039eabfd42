package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/pkg/sftp"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

func (s *Shell) sftpClient() (*sftp.Client, error) {
	client, err := s.getClient()
	if err != nil {
		return nil, transportFailure(err)
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		return nil, transportFailure(&TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		})
	}
	return sc, nil
}

// ReadFile implements engine.Shell. A missing file yields an error
// matching os.ErrNotExist.
func (s *Shell) ReadFile(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sc, err := s.sftpClient()
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	f, err := sc.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", p, os.ErrNotExist)
		}
		return nil, transportFailure(&TransportError{Op: "read", Err: err})
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, transportFailure(&TransportError{Op: "read", Err: err, IsTemporary: true})
	}
	return data, nil
}

// WriteFile implements engine.Shell. With Sudo set the content is staged
// in /tmp and moved into place with install(1).
func (s *Shell) WriteFile(ctx context.Context, p string, data []byte, mode os.FileMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sc, err := s.sftpClient()
	if err != nil {
		return err
	}
	defer sc.Close()

	dest := p
	if s.config.Sudo {
		dest = path.Join("/tmp", "froyo-"+uuid.NewString())
	}
	if err := sc.MkdirAll(path.Dir(dest)); err != nil {
		return transportFailure(&TransportError{Op: "write", Err: fmt.Errorf("failed to create remote directory: %w", err)})
	}

	if err := writeRemote(sc, dest, data, mode); err != nil {
		return transportFailure(&TransportError{Op: "write", Err: err})
	}

	s.logger.Debug().Str("path", p).Int("bytes", len(data)).Bool("sudo", s.config.Sudo).Msg("file written")

	if !s.config.Sudo {
		return nil
	}

	defer func() { _ = sc.Remove(dest) }()
	res, err := s.Run(ctx, "install", "-D", "-m", strconv.FormatUint(uint64(mode.Perm()), 8), dest, p)
	if err != nil {
		return err
	}
	if !res.Success() {
		return engine.NewPermanentError("failed to install "+p, errors.New(firstLine(res.Stderr))).
			WithCode(engine.ErrCodePermissionDenied).
			WithDetail("exit_code", res.ExitCode)
	}
	return nil
}

func writeRemote(sc *sftp.Client, p string, data []byte, mode os.FileMode) error {
	f, err := sc.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create remote file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write remote file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return sc.Chmod(p, mode.Perm())
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	if s == "" {
		return "no output"
	}
	return s
}
