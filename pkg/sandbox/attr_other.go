//go:build !linux && !windows

package sandbox

import (
	"syscall"
)

// groupAttributes places the child in its own process group. There is no
// parent-death signal outside Linux, so cleanup relies on Close being called
// from the supervisor's teardown paths.
func groupAttributes(attr *syscall.SysProcAttr) *syscall.SysProcAttr {
	if attr == nil {
		attr = &syscall.SysProcAttr{}
	}
	attr.Setpgid = true
	return attr
}
