//go:build !windows

package readingproc

import (
	"errors"
	"syscall"
)

// signalGroup delivers SIGTERM or SIGKILL to the child's process group.
// A group that is already gone is not an error: Terminate and Kill are
// idempotent on exited processes.
func signalGroup(pid int, force bool) error {
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
