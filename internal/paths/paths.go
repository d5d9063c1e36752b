package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	daemonName = "wharfd"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for runtime files (sockets, PIDs).
//
//	Linux:   $XDG_RUNTIME_DIR/wharfd or /run/user/<uid>/wharfd
//	macOS:   ~/Library/Caches/wharfd/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, daemonName)
	}
	return filepath.Join(xdg.CacheHome, daemonName, "run")
}

// Default path to the Unix domain socket for client-to-daemon communication.
//
//	Linux:   $XDG_RUNTIME_DIR/wharfd/wharfd.sock
//	macOS:   ~/Library/Caches/wharfd/run/wharfd.sock
func Socket() string {
	return filepath.Join(Runtime(), "wharfd.sock")
}

// Default path to the PID file.
//
//	Linux:   $XDG_RUNTIME_DIR/wharfd/wharfd.pid
//	macOS:   ~/Library/Caches/wharfd/run/wharfd.pid
func PIDFile() string {
	return filepath.Join(Runtime(), "wharfd.pid")
}

// Path to the directory holding per-build source checkouts.
//
// Checkouts are staging state only; each build creates a fresh directory
// here and removes it when the build finishes.
//
//	Linux:   ~/.cache/wharfd/checkouts
//	macOS:   ~/Library/Caches/wharfd/checkouts
func Checkouts() string {
	return filepath.Join(xdg.CacheHome, daemonName, "checkouts")
}
