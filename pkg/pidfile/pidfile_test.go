package pidfile

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/skip"
)

func TestWriteRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "fsd.pid")

	assert.NilError(t, Write(path, os.Getpid()))
	pid, err := Read(path)
	assert.NilError(t, err)
	assert.Check(t, is.Equal(os.Getpid(), pid))

	// Rewriting our own PID is allowed.
	assert.NilError(t, Write(path, os.Getpid()))

	assert.NilError(t, Remove(path))
	_, err = Read(path)
	assert.Check(t, os.IsNotExist(err))
	assert.NilError(t, Remove(path))
}

func TestWriteInvalidPID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsd.pid")
	assert.Check(t, is.ErrorContains(Write(path, 0), "invalid PID (0)"))
	assert.Check(t, is.ErrorContains(Write(path, -1), "invalid PID (-1)"))
}

func TestWriteRunningProcess(t *testing.T) {
	skip.If(t, runtime.GOOS == "windows", "no init process on Windows")
	skip.If(t, os.Getpid() == 1, "running as PID 1")
	path := filepath.Join(t.TempDir(), "fsd.pid")
	assert.NilError(t, os.WriteFile(path, []byte("1"), 0o644))

	// PID 1 is always running.
	err := Write(path, os.Getpid())
	assert.Check(t, is.ErrorContains(err, "process with PID 1 is still running"))
}

func TestReadStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fsd.pid")

	for _, content := range []string{"", "garbage", "-5", "0"} {
		assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
		pid, err := Read(path)
		assert.NilError(t, err)
		assert.Check(t, is.Equal(0, pid), "content %q", content)
	}

	assert.NilError(t, os.WriteFile(path, []byte("stale"), 0o644))
	assert.NilError(t, Write(path, os.Getpid()))
}
