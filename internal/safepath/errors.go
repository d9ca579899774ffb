package safepath

import (
	"errors"
	"io/fs"
	"syscall"

	"github.com/containerd/errdefs"
)

// ErrNotAccessible is returned when a path cannot be looked up or opened.
type ErrNotAccessible struct {
	Path  string
	Cause error
}

func (e *ErrNotAccessible) Error() string {
	return "cannot access path " + e.Path + ": " + e.Cause.Error()
}

func (e *ErrNotAccessible) Unwrap() error {
	return e.Cause
}

// Is classifies the error as errdefs.ErrNotFound or
// errdefs.ErrPermissionDenied depending on its cause.
func (e *ErrNotAccessible) Is(target error) bool {
	switch target {
	case errdefs.ErrNotFound:
		return errors.Is(e.Cause, fs.ErrNotExist) || errors.Is(e.Cause, syscall.ENOTDIR)
	case errdefs.ErrPermissionDenied:
		return errors.Is(e.Cause, fs.ErrPermission)
	}
	return false
}

// ErrEscapesBase is returned when a path resolves outside of its base.
type ErrEscapesBase struct {
	Base, Subpath string
}

func (e *ErrEscapesBase) Error() string {
	return "path " + e.Subpath + " escapes base " + e.Base
}

func (*ErrEscapesBase) Is(target error) bool {
	return target == errdefs.ErrPermissionDenied
}
