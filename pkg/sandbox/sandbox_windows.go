package sandbox

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"sync"
	"syscall"

	"github.com/kolesnikovae/go-winjob"
	"golang.org/x/sys/windows"
)

// limitTokenMatcher finds limit tokens in a sandbox configuration.
var limitTokenMatcher = regexp.MustCompile(`\(With[a-zA-Z]+\)`)

// limitTokenToGenerator maps limit tokens to their corresponding generators.
// Networking limits are deliberately absent: the engine serves its API over
// a loopback TCP port.
var limitTokenToGenerator = map[string]func() winjob.Limit{
	"(WithDesktopLimit)":            winjob.WithDesktopLimit,
	"(WithDieOnUnhandledException)": winjob.WithDieOnUnhandledException,
	"(WithDisplaySettingsLimit)":    winjob.WithDisplaySettingsLimit,
	"(WithExitWindowsLimit)":        winjob.WithExitWindowsLimit,
	"(WithGlobalAtomsLimit)":        winjob.WithGlobalAtomsLimit,
	"(WithReadClipboardLimit)":      winjob.WithReadClipboardLimit,
	"(WithSystemParametersLimit)":   winjob.WithSystemParametersLimit,
	"(WithWriteClipboardLimit)":     winjob.WithWriteClipboardLimit,
}

// ConfigurationEngine is the sandbox configuration for inference engine
// processes.
const ConfigurationEngine = `(WithDesktopLimit)
(WithDieOnUnhandledException)
(WithDisplaySettingsLimit)
(WithExitWindowsLimit)
(WithGlobalAtomsLimit)
(WithReadClipboardLimit)
(WithSystemParametersLimit)
(WithWriteClipboardLimit)
`

// ConfigurationWorker is the sandbox configuration for download workers. The
// worker has no UI, so it gets the same desktop and clipboard limits.
const ConfigurationWorker = ConfigurationEngine

// sandbox is the Windows sandbox implementation.
type sandbox struct {
	// job is the Windows Job object that encapsulates the process. It is
	// created with kill-on-close, so closing the last handle (including the
	// implicit close when this process dies) terminates the child.
	job *winjob.JobObject
	// command is the sandboxed process handle.
	command *exec.Cmd
	// closeOnce guards the job close.
	closeOnce sync.Once
	// closeErr is the result of the first Close.
	closeErr error
}

// Command implements Sandbox.Command.
func (s *sandbox) Command() *exec.Cmd {
	return s.command
}

// Close implements Sandbox.Close.
func (s *sandbox) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.job.Close()
	})
	return s.closeErr
}

// Create creates a sandbox containing a single process that has been started.
// The ctx, name, and arg arguments correspond to their counterparts in
// os/exec.CommandContext. The configuration argument specifies the sandbox
// configuration, for which a pre-defined value should be used. The modifier
// function allows for an optional callback (which may be nil) to configure the
// command before it is started.
func Create(ctx context.Context, configuration string, modifier func(*exec.Cmd), name string, arg ...string) (Sandbox, error) {
	// Parse the configuration and configure limits.
	limits := []winjob.Limit{winjob.WithKillOnJobClose()}
	tokens := limitTokenMatcher.FindAllString(configuration, -1)
	for _, token := range tokens {
		if generator, ok := limitTokenToGenerator[token]; ok {
			limits = append(limits, generator())
		} else {
			return nil, fmt.Errorf("unknown limit token: %q", token)
		}
	}

	// Create and configure the command. The engine is a console program; keep
	// it from opening a window of its own.
	command := exec.CommandContext(ctx, name, arg...)
	if modifier != nil {
		modifier(command)
	}
	if command.SysProcAttr == nil {
		command.SysProcAttr = &syscall.SysProcAttr{}
	}
	command.SysProcAttr.CreationFlags |= windows.CREATE_NO_WINDOW

	// Create the and start the job.
	job, err := winjob.Start(command, limits...)
	if err != nil {
		return nil, fmt.Errorf("unable to start sandboxed process: %w", err)
	}
	return &sandbox{
		job:     job,
		command: command,
	}, nil
}
