package transport

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// AuthMethod identifies how a Credentials value authenticates.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthKey      AuthMethod = "key"
	AuthAgent    AuthMethod = "agent"
)

// DefaultKeyType is used to locate ~/.ssh/id_<type> when no key is configured.
const DefaultKeyType = "ed25519"

// Credentials is the credential set used to authenticate to workers.
// A value is immutable once constructed; use the constructors.
type Credentials struct {
	username   string
	password   string
	key        []byte
	keyPath    string
	passphrase string
	keyType    string
}

// PasswordCredentials authenticates with a username and password.
func PasswordCredentials(username, password string) Credentials {
	return Credentials{username: username, password: password}
}

// KeyCredentials authenticates with PEM-encoded private key material.
func KeyCredentials(username string, key []byte, passphrase string) Credentials {
	return Credentials{
		username:   username,
		key:        append([]byte(nil), key...),
		passphrase: passphrase,
	}
}

// KeyFileCredentials authenticates with a private key read from path.
// The file is read when Key is called, not here.
func KeyFileCredentials(username, path, passphrase string) Credentials {
	return Credentials{username: username, keyPath: path, passphrase: passphrase}
}

// AgentCredentials authenticates through ssh-agent, falling back to the
// default ~/.ssh/id_<keyType> file.
func AgentCredentials(username, keyType string) Credentials {
	if keyType == "" {
		keyType = DefaultKeyType
	}
	return Credentials{username: username, keyType: keyType}
}

// Username returns the login name.
func (c Credentials) Username() string { return c.username }

// Password returns the password, empty for key-based credentials.
func (c Credentials) Password() string { return c.password }

// Passphrase returns the key passphrase, if any.
func (c Credentials) Passphrase() string { return c.passphrase }

// KeyPath returns the configured key file, or the default key location for
// agent credentials.
func (c Credentials) KeyPath() string {
	if c.keyPath != "" || c.keyType == "" {
		return c.keyPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "id_"+c.keyType)
}

// Method reports which authentication method the credentials use.
func (c Credentials) Method() AuthMethod {
	switch {
	case c.password != "":
		return AuthPassword
	case len(c.key) > 0 || c.keyPath != "":
		return AuthKey
	default:
		return AuthAgent
	}
}

// Key returns the private key material, reading it from disk if needed.
func (c Credentials) Key() ([]byte, error) {
	if len(c.key) > 0 {
		return append([]byte(nil), c.key...), nil
	}
	path := c.KeyPath()
	if path == "" {
		return nil, errors.New("no private key configured")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %s: %w", path, err)
	}
	return data, nil
}

// Validate checks that the credentials can be used to authenticate.
func (c Credentials) Validate() error {
	if c.username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidCredentials)
	}
	return nil
}

// String hides secrets.
func (c Credentials) String() string {
	return fmt.Sprintf("%s (%s)", c.username, c.Method())
}
