//go:build unix && !linux

package converter

import "syscall"

func killWithParent(*syscall.SysProcAttr) {}
