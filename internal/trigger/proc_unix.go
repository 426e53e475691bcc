//go:build unix

package trigger

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureKill runs the script in its own process group so a timeout kills
// the script and everything it spawned. Kill failures are ignored: the group
// may already be gone.
func configureKill(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL); err != nil {
			_ = cmd.Process.Kill()
		}
		return nil
	}
}
