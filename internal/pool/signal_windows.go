//go:build windows

package pool

import "os"

// terminateSignal falls back to os.Kill on Windows, which has no SIGTERM
// equivalent for os.Process.Signal.
func terminateSignal() os.Signal {
	return os.Kill
}
