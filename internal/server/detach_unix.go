//go:build unix

package server

import (
	"os/exec"
	"syscall"
)

// detach starts the child in its own session so it survives the parent's
// terminal and process group.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
