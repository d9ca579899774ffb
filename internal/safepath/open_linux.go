package safepath

/*
Copyright 2014 The Kubernetes Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Open opens the file at resolved, a path returned by Resolve for the same
// root. The path is walked one component at a time from root with
// openat(O_NOFOLLOW), so a component replaced by a symbolic link after
// Resolve returned is refused instead of followed.
func Open(root, resolved string) (*os.File, error) {
	rel, err := filepath.Rel(root, resolved)
	if err != nil || !(rel == "." || filepath.IsLocal(rel)) {
		return nil, &ErrEscapesBase{Base: root, Subpath: resolved}
	}
	fd, err := safeOpen(root, rel)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), resolved), nil
}

// safeOpen opens the path formed by joining base and subpath and returns
// its fd. Symlinks are disallowed in any component and the path must stay
// within base.
// Adapted from https://github.com/kubernetes/kubernetes/blob/55fb1805a1217b91b36fa8fe8f2bf3a28af2454d/pkg/volume/util/subpath/subpath_linux.go#L530
func safeOpen(base, subpath string) (int, error) {
	// flags used to traverse directories not following symlinks
	const dirFlags = unix.O_RDONLY | unix.O_DIRECTORY | unix.O_NOFOLLOW | unix.O_CLOEXEC
	// flags for the final component, which is read from
	const fileFlags = unix.O_RDONLY | unix.O_NOFOLLOW | unix.O_NONBLOCK | unix.O_CLOEXEC

	pathname := filepath.Join(base, subpath)

	// Base dir is resolved by CanonicalRoot and is not allowed to be a symlink.
	parentFD, err := openat(unix.AT_FDCWD, base, dirFlags)
	if err != nil {
		return -1, &ErrNotAccessible{Path: base, Cause: err}
	}
	if subpath == "." {
		return parentFD, nil
	}
	defer func() {
		if parentFD != -1 {
			if err := closeFD(parentFD); err != nil {
				log.G(context.TODO()).Errorf("Closing FD %v failed for safeopen(%v): %v", parentFD, pathname, err)
			}
		}
	}()

	segments := strings.Split(subpath, string(filepath.Separator))
	currentPath := base
	for i, seg := range segments {
		currentPath = filepath.Join(currentPath, seg)
		if !isLocalTo(currentPath, base) {
			return -1, &ErrEscapesBase{Base: base, Subpath: subpath}
		}

		flags := dirFlags
		last := i == len(segments)-1
		if last {
			flags = fileFlags
		}
		childFD, err := openat(parentFD, seg, flags)
		if err != nil {
			if (err == unix.ELOOP || err == unix.ENOTDIR) && isSymlinkAt(parentFD, seg) {
				return -1, errors.Wrapf(errdefs.ErrPermissionDenied, "unexpected symlink found %s", currentPath)
			}
			return -1, &ErrNotAccessible{Path: currentPath, Cause: err}
		}

		if err := closeFD(parentFD); err != nil {
			_ = closeFD(childFD)
			return -1, errors.Wrapf(err, "closing fd for %q failed", filepath.Dir(currentPath))
		}
		parentFD = childFD
	}

	if err := clearNonblock(parentFD); err != nil {
		return -1, errors.Wrapf(err, "opening %s", pathname)
	}

	// We made it to the end, return this fd, don't close it
	finalFD := parentFD
	parentFD = -1
	return finalFD, nil
}

// clearNonblock drops the O_NONBLOCK used to keep a FIFO swapped in after
// Resolve from blocking the open, and rejects anything but a regular file
// or directory.
func clearNonblock(fd int) error {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return err
	}
	switch st.Mode & unix.S_IFMT {
	case unix.S_IFREG, unix.S_IFDIR:
	default:
		return errors.Wrap(errdefs.ErrPermissionDenied, "not a regular file")
	}
	return unix.SetNonblock(fd, false)
}

func isSymlinkAt(dirfd int, name string) bool {
	var st unix.Stat_t
	if err := unix.Fstatat(dirfd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFLNK
}

func openat(dirfd int, path string, flags int) (int, error) {
	for {
		fd, err := unix.Openat(dirfd, path, flags, 0)
		if err != unix.EINTR {
			return fd, err
		}
	}
}

func closeFD(fd int) error {
	for {
		err := unix.Close(fd)
		if err != unix.EINTR {
			return err
		}
	}
}
