//go:build linux

package converter

import "syscall"

// killWithParent has the kernel kill the tool when the service dies without
// running its shutdown path. Leaving the process group takes the tool out of
// reach of signals sent to the service's group.
func killWithParent(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = syscall.SIGKILL
}
