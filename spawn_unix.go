//go:build !windows

package readingproc

import (
	"os"

	"github.com/creack/pty"
)

func shellCommand(cmd string) []string {
	return []string{"/bin/sh", "-c", cmd}
}

// openTerminal allocates a pseudo-terminal pair. The tty side becomes the
// child's stdin; the master side stays with the handle as its stdin writer.
func openTerminal() (master, tty *os.File, err error) {
	return pty.Open()
}
