package ssh

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/openfroyo/froyo-mysql/pkg/engine"
)

// testSSHServer provides a minimal SSH server with exec and an in-memory
// sftp subsystem.
type testSSHServer struct {
	listener net.Listener
	config   *ssh.ServerConfig
	addr     string
	done     chan struct{}
	files    sftp.Handlers

	mu       sync.Mutex
	commands []string
}

func newTestSSHServer(t *testing.T) *testSSHServer {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := ssh.NewSignerFromKey(privKey)
	require.NoError(t, err)

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "testuser" && string(pass) == "testpass" {
				return nil, nil
			}
			return nil, fmt.Errorf("invalid credentials")
		},
		PublicKeyCallback: func(c ssh.ConnMetadata, pubKey ssh.PublicKey) (*ssh.Permissions, error) {
			return nil, nil
		},
	}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	server := &testSSHServer{
		listener: listener,
		config:   config,
		addr:     listener.Addr().String(),
		done:     make(chan struct{}),
		files:    sftp.InMemHandler(),
	}
	go server.serve()
	t.Cleanup(server.close)

	return server
}

func (s *testSSHServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *testSSHServer) handleConnection(netConn net.Conn) {
	defer netConn.Close()

	sshConn, chans, reqs, err := ssh.NewServerConn(netConn, s.config)
	if err != nil {
		return
	}
	defer sshConn.Close()

	go ssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleChannel(channel, requests)
	}
}

func (s *testSSHServer) handleChannel(channel ssh.Channel, requests <-chan *ssh.Request) {
	defer channel.Close()

	for req := range requests {
		switch req.Type {
		case "exec":
			command := string(req.Payload[4:])
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			stdout, stderr, status := s.exec(command)
			_, _ = channel.Write([]byte(stdout))
			_, _ = channel.Stderr().Write([]byte(stderr))
			_, _ = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status}))
			return

		case "subsystem":
			if string(req.Payload[4:]) != "sftp" {
				if req.WantReply {
					_ = req.Reply(false, nil)
				}
				continue
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}
			server := sftp.NewRequestServer(channel, s.files)
			_ = server.Serve()
			_ = server.Close()
			return

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testSSHServer) exec(command string) (string, string, uint32) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()

	switch {
	case command == "hostname":
		return "db1\n", "", 0
	case command == "dpkg-query -W mysql-client":
		return "", "dpkg-query: no packages found matching mysql-client\n", 1
	case command == "sleep 10":
		time.Sleep(2 * time.Second)
		return "", "", 0
	case strings.HasPrefix(command, "sudo -n install "):
		return "", "", 0
	default:
		return "command: " + command + "\n", "", 0
	}
}

func (s *testSSHServer) executed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testSSHServer) close() {
	close(s.done)
	s.listener.Close()
}

func newTestShell(t *testing.T, server *testSSHServer, modify ...func(*Config)) *Shell {
	t.Helper()

	host, portStr, err := net.SplitHostPort(server.addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"
	config.StrictHostKeyChecking = false
	config.Sudo = false
	config.ConnectionTimeout = 5 * time.Second
	for _, m := range modify {
		m(config)
	}

	shell, err := NewShell(config, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, shell.Connect(context.Background()))
	t.Cleanup(func() { _ = shell.Close() })
	return shell
}

func TestShellRun(t *testing.T) {
	server := newTestSSHServer(t)
	shell := newTestShell(t, server)
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		res, err := shell.Run(ctx, "hostname")
		require.NoError(t, err)
		assert.True(t, res.Success())
		assert.Equal(t, "db1\n", res.Stdout)
	})

	t.Run("non-zero exit is a result", func(t *testing.T) {
		res, err := shell.Run(ctx, "dpkg-query", "-W", "mysql-client")
		require.NoError(t, err)
		assert.Equal(t, 1, res.ExitCode)
		assert.Contains(t, res.Stderr, "no packages found")
	})

	t.Run("arguments are quoted", func(t *testing.T) {
		res, err := shell.Run(ctx, "dpkg-query", "-W", "-f=${Status} ${Version}", "it's")
		require.NoError(t, err)
		assert.Equal(t, `command: dpkg-query -W '-f=${Status} ${Version}' 'it'"'"'s'`+"\n", res.Stdout)
	})
}

func TestShellRunTimeout(t *testing.T) {
	server := newTestSSHServer(t)
	shell := newTestShell(t, server, func(c *Config) { c.CommandTimeout = 200 * time.Millisecond })

	_, err := shell.Run(context.Background(), "sleep", "10")
	require.Error(t, err)
	assert.True(t, engine.IsTransient(err))
}

func TestShellNotConnected(t *testing.T) {
	config := DefaultConfig("127.0.0.1", "testuser")
	config.AuthMethod = AuthMethodPassword
	config.Password = "testpass"

	shell, err := NewShell(config, zerolog.Nop())
	require.NoError(t, err)

	_, err = shell.Run(context.Background(), "true")
	require.Error(t, err)
	assert.True(t, engine.IsPermanent(err))
	assert.Equal(t, "testuser@127.0.0.1:22", shell.Target())
}

func TestShellConnectFailure(t *testing.T) {
	server := newTestSSHServer(t)
	host, portStr, _ := net.SplitHostPort(server.addr)
	port, _ := strconv.Atoi(portStr)

	config := DefaultConfig(host, "testuser")
	config.Port = port
	config.AuthMethod = AuthMethodPassword
	config.Password = "wrong"
	config.StrictHostKeyChecking = false

	shell, err := NewShell(config, zerolog.Nop())
	require.NoError(t, err)

	err = shell.Connect(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "connect", te.Op)
}

func TestCommandLine(t *testing.T) {
	shell := &Shell{config: &Config{Sudo: true}}
	assert.Equal(t, "sudo -n apt-get -y install mysql-client", shell.commandLine("apt-get", "-y", "install", "mysql-client"))

	shell.config.Sudo = false
	assert.Equal(t, "gem list --installed '^mysql$'", shell.commandLine("gem", "list", "--installed", "^mysql$"))
	assert.Equal(t, "echo ''", shell.commandLine("echo", ""))
}

func TestShellFiles(t *testing.T) {
	server := newTestSSHServer(t)
	shell := newTestShell(t, server)
	ctx := context.Background()

	_, err := shell.ReadFile(ctx, "/etc/apt/sources.list.d/percona.list")
	assert.ErrorIs(t, err, os.ErrNotExist)

	content := []byte("deb http://repo.percona.com/apt jammy main\n")
	require.NoError(t, shell.WriteFile(ctx, "/etc/apt/sources.list.d/percona.list", content, 0o644))

	got, err := shell.ReadFile(ctx, "/etc/apt/sources.list.d/percona.list")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestShellWriteFileSudo(t *testing.T) {
	server := newTestSSHServer(t)
	shell := newTestShell(t, server, func(c *Config) { c.Sudo = true })

	require.NoError(t, shell.WriteFile(context.Background(), "/etc/yum.repos.d/percona.repo", []byte("[percona]\n"), 0o644))

	commands := server.executed()
	require.Len(t, commands, 1)
	assert.True(t, strings.HasPrefix(commands[0], "sudo -n install -D -m 644 /tmp/froyo-"), commands[0])
	assert.True(t, strings.HasSuffix(commands[0], " /etc/yum.repos.d/percona.repo"), commands[0])
}
