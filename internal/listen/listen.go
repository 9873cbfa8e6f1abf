// Package listen opens the server's listening socket. Beyond plain TCP it
// supports unix domain sockets with recovery from stale socket files left by
// an unclean shutdown.
package listen

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// UnixPrefix marks a bind address as a unix socket path.
const UnixPrefix = "unix:"

// maxBindAttempts bounds stale-socket recovery to a single retry. One unlink
// either fixes the problem or it was never a stale socket.
const maxBindAttempts = 2

// probeTimeout caps how long the liveness probe of an existing socket waits.
const probeTimeout = time.Second

// Listen opens a listener on bind. Addresses starting with UnixPrefix name a
// filesystem socket path; anything else is a TCP host:port.
//
// For unix sockets, a missing parent directory is created, and a leftover
// socket file from a dead process is detected by probing it with a connection
// attempt: only a refused connection marks the file stale and unlinks it
// before one retry. A probe that connects, or fails any other way, means a
// live owner may hold the socket and is a hard error. On success the socket
// file is made world-connectable.
func Listen(bind string) (net.Listener, error) {
	path, ok := strings.CutPrefix(bind, UnixPrefix)
	if !ok {
		ln, err := net.Listen("tcp", bind)
		if err != nil {
			return nil, fmt.Errorf("listen on %s: %w", bind, err)
		}
		return ln, nil
	}

	var lastErr error
	for attempt := 1; attempt <= maxBindAttempts; attempt++ {
		ln, err := net.Listen("unix", path)
		if err == nil {
			if err := os.Chmod(path, 0666); err != nil {
				_ = ln.Close()
				return nil, fmt.Errorf("chmod socket %s: %w", path, err)
			}
			return ln, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, fs.ErrNotExist):
			dir := filepath.Dir(path)
			if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
				return nil, fmt.Errorf("create socket dir %s: %w", dir, mkErr)
			}
			log.Info().Str("dir", dir).Msg("created socket directory")

		case errors.Is(err, syscall.EADDRINUSE):
			perr := probe(path)
			if perr == nil {
				return nil, fmt.Errorf("socket %s is in use by a running server", path)
			}
			if !errors.Is(perr, syscall.ECONNREFUSED) {
				// a busy live owner can fail the probe without refusing;
				// only a refusal proves the file is an orphan
				return nil, fmt.Errorf("probe socket %s: %w", path, perr)
			}
			if rmErr := os.Remove(path); rmErr != nil {
				return nil, fmt.Errorf("remove stale socket %s: %w", path, rmErr)
			}
			log.Warn().Str("path", path).Msg("removed stale socket file")

		default:
			return nil, fmt.Errorf("listen on %s: %w", bind, err)
		}
	}
	return nil, fmt.Errorf("listen on %s: %w", bind, lastErr)
}

// probe dials the socket at path to find out whether a process still owns
// it. A nil return means a live owner answered.
func probe(path string) error {
	conn, err := net.DialTimeout("unix", path, probeTimeout)
	if err != nil {
		return err
	}
	_ = conn.Close()
	return nil
}
