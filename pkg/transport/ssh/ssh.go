// Package ssh implements transport.Dialer over SSH, using SFTP for file
// transfer.
//
// Authentication follows the credential set:
//
//   - password: password auth, with keyboard-interactive answering every
//     question with the same password
//   - key: a PEM private key, decrypted with the passphrase when set
//   - agent: keys from $SSH_AUTH_SOCK plus the default ~/.ssh/id_<type>
//
// Host keys are verified against a known_hosts file when one is configured.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/marmos91/offload/internal/logger"
	"github.com/marmos91/offload/pkg/transport"
)

// DefaultPort is the SSH port used when an address carries none.
const DefaultPort = 22

// Config configures the SSH dialer.
type Config struct {
	// Port is used for addresses without an explicit port. Default: 22
	Port int

	// KnownHosts is a known_hosts file used to verify worker host keys.
	// Empty disables verification.
	KnownHosts string

	// HandshakeTimeout bounds TCP connect plus SSH handshake when the
	// context carries no earlier deadline. Zero means no extra bound.
	HandshakeTimeout time.Duration

	// HostKeyCallback overrides KnownHosts when set.
	HostKeyCallback gossh.HostKeyCallback
}

// Dialer opens SSH sessions to workers.
type Dialer struct {
	config  Config
	hostKey gossh.HostKeyCallback
}

var _ transport.Dialer = (*Dialer)(nil)

// NewDialer creates a Dialer. It fails only when KnownHosts cannot be read.
func NewDialer(cfg Config) (*Dialer, error) {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}

	hostKey := cfg.HostKeyCallback
	if hostKey == nil {
		if cfg.KnownHosts != "" {
			cb, err := knownhosts.New(cfg.KnownHosts)
			if err != nil {
				return nil, fmt.Errorf("load known_hosts %s: %w", cfg.KnownHosts, err)
			}
			hostKey = cb
		} else {
			hostKey = gossh.InsecureIgnoreHostKey() //nolint:gosec // workers on a trusted LAN
		}
	}

	return &Dialer{config: cfg, hostKey: hostKey}, nil
}

// Dial implements transport.Dialer.
func (d *Dialer) Dial(ctx context.Context, addr string, creds transport.Credentials) (transport.Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	hostport := d.hostPort(addr)

	auth, closeAuth, err := authMethods(creds)
	if err != nil {
		return nil, transport.NewError("auth", hostport, fmt.Errorf("%w: %v", transport.ErrAuthenticationFailed, err))
	}
	defer closeAuth()

	if d.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.HandshakeTimeout)
		defer cancel()
	}

	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return nil, transport.NewError("dial", hostport, fmt.Errorf("%w: %v", transport.ErrUnreachable, err))
	}

	// The SSH handshake has no context support: bound it with a deadline
	// and a watcher that closes the connection on cancellation.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	clientCfg := &gossh.ClientConfig{
		User:            creds.Username(),
		Auth:            auth,
		HostKeyCallback: d.hostKey,
	}
	c, chans, reqs, err := gossh.NewClientConn(conn, hostport, clientCfg)
	if !stop() || err != nil {
		_ = conn.Close()
		if err == nil {
			err = ctx.Err()
		}
		return nil, classify(hostport, err)
	}
	_ = conn.SetDeadline(time.Time{})

	logger.Debug("SSH session established",
		logger.KeyHost, hostport,
		logger.KeyUsername, creds.Username(),
		logger.KeyAuth, string(creds.Method()))

	return &Session{
		addr:   hostport,
		client: gossh.NewClient(c, chans, reqs),
	}, nil
}

func (d *Dialer) hostPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(d.config.Port))
}

// classify maps handshake failures onto transport sentinels.
func classify(addr string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return transport.NewError("dial", addr, fmt.Errorf("%w: %w", transport.ErrUnreachable, err))
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return transport.NewError("dial", addr, fmt.Errorf("%w: %w", transport.ErrUnreachable, context.DeadlineExceeded))
	}

	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return transport.NewError("auth", addr, fmt.Errorf("%w: %v", transport.ErrAuthenticationFailed, err))
	}
	return transport.NewError("dial", addr, fmt.Errorf("%w: %v", transport.ErrUnreachable, err))
}

// authMethods builds the auth method list for creds. The returned func
// releases the agent connection, if one was opened.
func authMethods(creds transport.Credentials) ([]gossh.AuthMethod, func(), error) {
	noop := func() {}

	switch creds.Method() {
	case transport.AuthPassword:
		password := creds.Password()
		return []gossh.AuthMethod{
			gossh.Password(password),
			gossh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		}, noop, nil

	case transport.AuthKey:
		signer, err := loadSigner(creds)
		if err != nil {
			return nil, noop, err
		}
		return []gossh.AuthMethod{gossh.PublicKeys(signer)}, noop, nil

	default:
		var methods []gossh.AuthMethod
		closeFn := noop

		if sock := os.Getenv("SSH_AUTH_SOCK"); sock != "" {
			if conn, err := net.Dial("unix", sock); err == nil {
				methods = append(methods, gossh.PublicKeysCallback(agent.NewClient(conn).Signers))
				closeFn = func() { _ = conn.Close() }
			} else {
				logger.Debug("ssh-agent not available", logger.KeyError, err.Error())
			}
		}

		if signer, err := loadSigner(creds); err == nil {
			methods = append(methods, gossh.PublicKeys(signer))
		} else {
			logger.Debug("Default key not usable", logger.KeyPath, creds.KeyPath(), logger.KeyError, err.Error())
		}

		if len(methods) == 0 {
			closeFn()
			return nil, noop, errors.New("no password, key, or agent available")
		}
		return methods, closeFn, nil
	}
}

func loadSigner(creds transport.Credentials) (gossh.Signer, error) {
	pemBytes, err := creds.Key()
	if err != nil {
		return nil, err
	}

	if pass := creds.Passphrase(); pass != "" {
		signer, err := gossh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(pass))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return signer, nil
	}

	signer, err := gossh.ParsePrivateKey(pemBytes)
	if err != nil {
		var missing *gossh.PassphraseMissingError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("private key %s is encrypted and no passphrase is configured", creds.KeyPath())
		}
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}
