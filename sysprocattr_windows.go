//go:build windows

package readingproc

import "os/exec"

func configureCmdSysProcAttr(cmd *exec.Cmd) {}
