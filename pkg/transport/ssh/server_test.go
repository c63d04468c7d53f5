//go:build !windows

package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"net"
	"os/exec"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

const (
	testUser     = "pi"
	testPassword = "raspberry"
)

// testServer is a minimal SSH server that runs exec requests through the
// local shell and serves the sftp subsystem from the local filesystem.
type testServer struct {
	addr       string
	hostSigner gossh.Signer
	clientKey  ed25519.PrivateKey

	mu    sync.Mutex
	execs []string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostSigner, err := gossh.NewSignerFromKey(hostPriv)
	require.NoError(t, err)

	clientPub, clientPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	authorized, err := gossh.NewPublicKey(clientPub)
	require.NoError(t, err)

	cfg := &gossh.ServerConfig{
		PasswordCallback: func(c gossh.ConnMetadata, pass []byte) (*gossh.Permissions, error) {
			if c.User() == testUser && string(pass) == testPassword {
				return nil, nil
			}
			return nil, errors.New("password rejected")
		},
		PublicKeyCallback: func(c gossh.ConnMetadata, key gossh.PublicKey) (*gossh.Permissions, error) {
			if c.User() == testUser && string(key.Marshal()) == string(authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("key rejected")
		},
	}
	cfg.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	srv := &testServer{
		addr:       ln.Addr().String(),
		hostSigner: hostSigner,
		clientKey:  clientPriv,
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go srv.serveConn(conn, cfg)
		}
	}()

	return srv
}

func (s *testServer) serveConn(conn net.Conn, cfg *gossh.ServerConfig) {
	_, chans, reqs, err := gossh.NewServerConn(conn, cfg)
	if err != nil {
		_ = conn.Close()
		return
	}
	go gossh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "session" {
			_ = newCh.Reject(gossh.UnknownChannelType, "unsupported")
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			continue
		}
		go s.serveSession(ch, chReqs)
	}
}

func (s *testServer) serveSession(ch gossh.Channel, reqs <-chan *gossh.Request) {
	var cmd *exec.Cmd

	for req := range reqs {
		switch req.Type {
		case "pty-req", "env":
			_ = req.Reply(true, nil)

		case "exec":
			var payload struct{ Command string }
			if err := gossh.Unmarshal(req.Payload, &payload); err != nil {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)

			s.mu.Lock()
			s.execs = append(s.execs, payload.Command)
			s.mu.Unlock()

			cmd = exec.Command("sh", "-c", payload.Command)
			cmd.Stdout = ch
			cmd.Stderr = ch.Stderr()
			go func(cmd *exec.Cmd) {
				status := 0
				if err := cmd.Run(); err != nil {
					var exitErr *exec.ExitError
					if errors.As(err, &exitErr) {
						status = exitErr.ExitCode()
					} else {
						status = 127
					}
				}
				_, _ = ch.SendRequest("exit-status", false, gossh.Marshal(struct{ Status uint32 }{uint32(status)}))
				_ = ch.Close()
			}(cmd)

		case "signal":
			if cmd != nil && cmd.Process != nil {
				_ = cmd.Process.Kill()
			}
			if req.WantReply {
				_ = req.Reply(true, nil)
			}

		case "subsystem":
			var payload struct{ Name string }
			_ = gossh.Unmarshal(req.Payload, &payload)
			if payload.Name != "sftp" {
				_ = req.Reply(false, nil)
				continue
			}
			_ = req.Reply(true, nil)
			go func() {
				server, err := sftp.NewServer(ch)
				if err != nil {
					_ = ch.Close()
					return
				}
				_ = server.Serve()
				_ = ch.Close()
			}()

		default:
			if req.WantReply {
				_ = req.Reply(false, nil)
			}
		}
	}
}

func (s *testServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.execs...)
}

func (s *testServer) clientKeyPEM(t *testing.T, passphrase string) []byte {
	t.Helper()
	if passphrase == "" {
		block, err := gossh.MarshalPrivateKey(s.clientKey, "")
		require.NoError(t, err)
		return pemEncode(block)
	}
	block, err := gossh.MarshalPrivateKeyWithPassphrase(s.clientKey, "", []byte(passphrase))
	require.NoError(t, err)
	return pemEncode(block)
}

func (s *testServer) port() string {
	_, port, _ := net.SplitHostPort(s.addr)
	return port
}

