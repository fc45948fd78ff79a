// Package sandbox spawns child processes whose lifetime is bound to the
// current process. Each platform uses the strongest mechanism it offers so
// that an abnormal exit of the supervising program does not orphan the child:
// Job objects with kill-on-close on Windows, a process group plus a
// parent-death signal on Linux, and a process group elsewhere.
package sandbox

import (
	"os/exec"
)

// Sandbox encapsulates a single running sandboxed process.
type Sandbox interface {
	// Command returns the sandboxed process handle. Callers are responsible
	// for calling Wait on it.
	Command() *exec.Cmd
	// Close terminates the process (and anything it spawned) if it is still
	// running and releases any resources held by the sandbox. It is safe to
	// call more than once.
	Close() error
}
