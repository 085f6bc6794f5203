package ipc

import (
	"os"
	"path/filepath"
	"runtime"
)

// WindowsPort is the fixed loopback TCP port used in place of a Unix
// domain socket on Windows (spec.md §6).
const WindowsPort = 37842

// DataDir returns the platform data directory envmesh keeps its
// persistent store and socket file under (spec.md §6), respecting
// XDG_DATA_HOME on POSIX and falling back to ~/.local/share/envmesh.
func DataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".local", "share", "envmesh")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "envmesh")
}

// SocketPath returns the Unix domain socket path under DataDir().
// Unused on Windows, which binds WindowsPort instead.
func SocketPath() string {
	return filepath.Join(DataDir(), "envmesh.sock")
}

// Network and Address return the net.Listen/net.Dial arguments for
// this platform: a Unix domain socket everywhere except Windows,
// where a fixed loopback TCP port is used instead.
func Network() string {
	if runtime.GOOS == "windows" {
		return "tcp"
	}
	return "unix"
}

func Address() string {
	if runtime.GOOS == "windows" {
		return "127.0.0.1:37842"
	}
	return SocketPath()
}
