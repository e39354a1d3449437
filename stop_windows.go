//go:build windows

package readingproc

import (
	"errors"
	"os"
)

// signalGroup signals only the direct child on Windows: without job
// objects there is no kernel-enforced group delivery, so grandchildren may
// outlive the child and must be cleaned up by the caller.
func signalGroup(pid int, force bool) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}
	if !force {
		if err := proc.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return err
		}
		return nil
	}
	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}
