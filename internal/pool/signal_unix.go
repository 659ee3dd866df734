//go:build !windows

package pool

import (
	"os"
	"syscall"
)

// terminateSignal is SIGTERM on unix platforms, giving the reviewer
// subprocess a chance to exit cleanly before the 10s kill grace elapses.
func terminateSignal() os.Signal {
	return syscall.SIGTERM
}
