//go:build !windows

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"golang.org/x/sys/unix"
)

// ConfigurationEngine is the sandbox configuration for inference engine
// processes. POSIX platforms don't take any additional limits.
const ConfigurationEngine = ``

// ConfigurationWorker is the sandbox configuration for download workers.
const ConfigurationWorker = ``

// sandbox is the POSIX sandbox implementation. The process is started as the
// leader of a new process group so that Close can take down its children too.
type sandbox struct {
	// cancel cancels the context associated with the process.
	cancel context.CancelFunc
	// command is the sandboxed process handle.
	command *exec.Cmd
	// closeOnce guards the group kill.
	closeOnce sync.Once
}

// Command implements Sandbox.Command.
func (s *sandbox) Command() *exec.Cmd {
	return s.command
}

// Close implements Sandbox.Close.
func (s *sandbox) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.command.Process != nil {
			// A negative pid addresses the whole process group.
			if killErr := unix.Kill(-s.command.Process.Pid, unix.SIGKILL); killErr != nil && !errors.Is(killErr, unix.ESRCH) {
				err = fmt.Errorf("unable to kill process group: %w", killErr)
			}
		}
		s.cancel()
	})
	return err
}

// Create creates a sandbox containing a single process that has been started.
// The ctx, name, and arg arguments correspond to their counterparts in
// os/exec.CommandContext. The configuration argument specifies the sandbox
// configuration, for which a pre-defined value should be used. The modifier
// function allows for an optional callback (which may be nil) to configure the
// command before it is started.
func Create(ctx context.Context, configuration string, modifier func(*exec.Cmd), name string, arg ...string) (Sandbox, error) {
	// Create a subcontext we can use to regulate the process lifetime.
	ctx, cancel := context.WithCancel(ctx)

	// Create and configure the command.
	command := exec.CommandContext(ctx, name, arg...)
	if modifier != nil {
		modifier(command)
	}
	command.SysProcAttr = groupAttributes(command.SysProcAttr)

	// Start the process.
	if err := command.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("unable to start process: %w", err)
	}
	return &sandbox{
		cancel:  cancel,
		command: command,
	}, nil
}
