//go:build windows

package readingproc

import (
	"errors"
	"os"
)

func shellCommand(cmd string) []string {
	return []string{"cmd", "/C", cmd}
}

func openTerminal() (master, tty *os.File, err error) {
	return nil, nil, errors.New("terminal mode is not supported on windows")
}
