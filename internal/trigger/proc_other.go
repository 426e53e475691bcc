//go:build !unix

package trigger

import "os/exec"

// configureKill keeps the default behaviour of killing the script process.
func configureKill(cmd *exec.Cmd) {
	cmd.Cancel = func() error {
		_ = cmd.Process.Kill()
		return nil
	}
}
