//go:build darwin

package driver

import "golang.org/x/sys/unix"

// commandName asks the kernel for the short command name of pid.
func commandName(pid int) (string, error) {
	info, err := unix.SysctlKinfoProc("kern.proc.pid", pid)
	if err != nil {
		return "", err
	}
	return nonEmptyName(pid, unix.ByteSliceToString(info.Proc.P_comm[:]))
}
