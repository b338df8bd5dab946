package core

import (
	"context"
	"fmt"
	"os/exec"
)

// Launcher is the abstract "spawn" collaborator: it starts the peer
// process and returns once the command has been launched (the PID
// itself is recovered later, from the peer's message file, per the
// channel contract). Synchronous; failure is reported and retried on
// the next restart pass.
type Launcher interface {
	Launch(ctx context.Context, command string, cpuAffinity *int) error
}

// ShellLauncher runs the configured launch command through the host
// shell, backgrounded, mirroring the original monitor's system(3) call
// and the pack's own process-supervision idiom of exec.Command("sh",
// "-c", ...) with a detached process group so the supervisor's own
// lifetime is independent of the peer's.
type ShellLauncher struct{}

// Launch executes command via "sh -c", optionally prefixed with a
// taskset CPU-affinity pin when cpuAffinity is set, matching the
// original monitor's "taskset -c N <command>" launch lines. It does not
// wait for the command to exit: a supervised peer is expected to keep
// running (and eventually write its own PID into its message file) long
// after Launch returns.
func (ShellLauncher) Launch(ctx context.Context, command string, cpuAffinity *int) error {
	shellCmd := command
	if cpuAffinity != nil {
		if _, err := exec.LookPath("taskset"); err == nil {
			shellCmd = fmt.Sprintf("taskset -c %d %s", *cpuAffinity, command)
		}
	}

	cmd := exec.Command("sh", "-c", shellCmd)
	cmd.SysProcAttr = sysProcAttrDetached()

	if err := cmd.Start(); err != nil {
		return err
	}

	// The launched process is expected to daemonize or otherwise
	// outlive this call; reap it in the background so it does not
	// linger as a zombie, and discard its exit status (the peer reports
	// its own liveness via checkpoints, not via process-exit).
	go func() { _ = cmd.Wait() }()
	return nil
}

// SignalKiller implements Killer by delivering SIGKILL to the given
// PID, the abstract "terminate PID" operation of the external
// interfaces section. See process_unix.go/process_other.go for the
// platform-specific signal delivery.
type SignalKiller struct{}
