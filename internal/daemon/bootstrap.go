package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// Spawn starts the monitor as a background process detached from the
// terminal by re-executing the binary with the "run" command.
func Spawn(extraArgs ...string) (int, error) {
	executable, err := os.Executable()
	if err != nil {
		return 0, fmt.Errorf("resolve executable: %w", err)
	}

	cmd := detachedCommand(executable, append([]string{"run"}, extraArgs...)...)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start monitor process: %w", err)
	}
	pid := cmd.Process.Pid

	// The child outlives us.
	if err := cmd.Process.Release(); err != nil {
		return pid, fmt.Errorf("release monitor process: %w", err)
	}
	return pid, nil
}

func detachedCommand(executable string, args ...string) *exec.Cmd {
	cmd := exec.Command(executable, args...)

	// New session, no controlling terminal.
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	return cmd
}
