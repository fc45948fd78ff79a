package sandbox

import (
	"syscall"
)

// groupAttributes places the child in its own process group and asks the
// kernel to SIGKILL it if the parent dies first.
func groupAttributes(attr *syscall.SysProcAttr) *syscall.SysProcAttr {
	if attr == nil {
		attr = &syscall.SysProcAttr{}
	}
	attr.Setpgid = true
	attr.Pdeathsig = syscall.SIGKILL
	return attr
}
