// Package pidfile writes and reads the file recording the process ID of a
// running fsd, so that two servers are not started with the same pidfile.
package pidfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// Read returns the PID recorded at path when that process is still alive,
// and 0 otherwise. Malformed content is treated as a stale file; only a
// failure to read the file is returned as an error.
func Read(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(string(bytes.TrimSpace(b)))
	if err != nil || pid < 1 {
		return 0, nil
	}
	if !alive(pid) {
		return 0, nil
	}
	return pid, nil
}

// Write records pid at path, creating the parent directory when needed. It
// refuses to overwrite a file naming another live process.
func Write(path string, pid int) error {
	if pid < 1 {
		return fmt.Errorf("invalid PID (%d): only positive PIDs are allowed", pid)
	}
	oldPID, err := Read(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if oldPID != 0 && oldPID != pid {
		return fmt.Errorf("process with PID %d is still running", oldPID)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "creating pidfile directory")
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644)
}

// Remove deletes the pidfile; a missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
