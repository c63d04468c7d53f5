// Package transport defines the remote-execution collaborator used by the
// offload dispatcher and command runner.
//
// A Dialer opens an authenticated Session to one worker address. A Session
// can:
//
//   - Run a shell command, streaming its output to a display writer while
//     capturing the lines for the caller
//   - Upload a file from a reader to an absolute remote path
//   - Remove a remote file
//
// Implementations:
//
//   - transport/ssh: golang.org/x/crypto/ssh sessions with SFTP file transfer
//   - transport/local: the local OS shell and filesystem, used as the
//     fallback execution target
//
// Sessions are owned by a single caller and are not safe for concurrent use.
package transport
