//go:build !windows

package pidfile

import "golang.org/x/sys/unix"

// alive reports whether a process with the given pid exists. EPERM means
// it exists but belongs to another user.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
