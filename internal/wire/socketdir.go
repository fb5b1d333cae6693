//go:build !windows

package wire

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// runtimeDir returns the directory holding the endpoint socket. The
// session runtime directory is already private; the /tmp fallback gets
// a per-user subdirectory so the endpoint never sits in a shared
// sticky directory.
func runtimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(os.TempDir(), fmt.Sprintf("pyengine-%d", os.Geteuid()))
}

// SocketPath resolves the endpoint name to a filesystem path inside
// the runtime directory.
func SocketPath() string {
	return filepath.Join(runtimeDir(), EndpointName()+".sock")
}

// EnsureSocketDir creates the socket directory with 0700 permissions
// and verifies mode and ownership. A directory pre-created by another
// user is rejected rather than reused.
func EnsureSocketDir(dir string) error {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create socket directory: %w", err)
		}
		// Re-stat to handle a race with another creator.
		info, err = os.Stat(dir)
		if err != nil {
			return fmt.Errorf("failed to stat created directory: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("failed to stat socket directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory: %s", dir)
	}

	// The session runtime directory is managed by the system; only
	// verify directories we created ourselves.
	if dir == os.Getenv("XDG_RUNTIME_DIR") {
		return nil
	}

	if perm := info.Mode().Perm(); perm != 0700 {
		return fmt.Errorf("insecure socket directory permissions: %o (expected 0700)", perm)
	}

	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("socket directory is not owned by the current user (uid=%d, owner=%d)", os.Geteuid(), stat.Uid)
		}
	}

	return nil
}
