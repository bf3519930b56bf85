//go:build !unix

package converter

import "os/exec"

// configureProcess keeps the default exec.CommandContext behaviour, which
// kills only the direct child.
func configureProcess(cmd *exec.Cmd) {}
