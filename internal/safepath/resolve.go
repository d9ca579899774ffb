// Package safepath maps request paths onto a document root without letting
// them escape it, through ".." segments or through symbolic links.
package safepath

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// IndexFiles are tried, in order, when a directory is requested.
var IndexFiles = []string{"index.html", "index.htm"}

// Options controls how directories are resolved.
type Options struct {
	// Listing allows a directory without index file to be listed.
	Listing bool
}

// Target is the outcome of resolving a request path.
type Target struct {
	// Path is the absolute, symlink-free filesystem path. It is always the
	// root or one of its descendants.
	Path string
	Info fs.FileInfo

	// Redirect is set when a directory was requested without a trailing
	// slash; the client should be sent to URLPath + "/".
	Redirect bool
	// Listing is set when Path is a directory to be listed.
	Listing bool
	// URLPath is the normalised request path.
	URLPath string
}

// CanonicalRoot returns dir as an absolute path free of symbolic links. It
// must name an existing directory.
func CanonicalRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, "invalid document root %q", dir)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &ErrNotAccessible{Path: abs, Cause: err}
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return "", &ErrNotAccessible{Path: resolved, Cause: err}
	}
	if !fi.IsDir() {
		return "", errors.Errorf("document root %s is not a directory", resolved)
	}
	return resolved, nil
}

// Resolve maps the decoded request path p onto root, which must come from
// CanonicalRoot. The path is first normalised lexically, then every
// symbolic link in it is evaluated, and the result is checked to still lie
// within root.
//
// Errors are classified as errdefs.ErrNotFound or
// errdefs.ErrPermissionDenied.
func Resolve(root, p string, opts Options) (*Target, error) {
	urlPath := path.Clean("/" + p)
	trailingSlash := strings.HasSuffix(p, "/")

	resolved, err := evalWithin(root, filepath.Join(root, filepath.FromSlash(urlPath)), urlPath)
	if err != nil {
		return nil, err
	}
	fi, err := os.Stat(resolved)
	if err != nil {
		return nil, &ErrNotAccessible{Path: resolved, Cause: err}
	}

	t := &Target{Path: resolved, Info: fi, URLPath: urlPath}
	if !fi.IsDir() {
		if trailingSlash {
			return nil, errors.Wrapf(errdefs.ErrNotFound, "%s is not a directory", urlPath)
		}
		if !fi.Mode().IsRegular() {
			return nil, errors.Wrapf(errdefs.ErrPermissionDenied, "%s is not a regular file", urlPath)
		}
		return t, nil
	}

	if !trailingSlash && urlPath != "/" {
		t.Redirect = true
		return t, nil
	}
	if urlPath != "/" {
		t.URLPath += "/"
	}

	for _, name := range IndexFiles {
		idx, err := evalWithin(root, filepath.Join(resolved, name), path.Join(urlPath, name))
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		ifi, err := os.Stat(idx)
		if err != nil || !ifi.Mode().IsRegular() {
			continue
		}
		return &Target{Path: idx, Info: ifi, URLPath: t.URLPath + name}, nil
	}

	if !opts.Listing {
		return nil, errors.Wrapf(errdefs.ErrPermissionDenied, "directory listing disabled for %s", urlPath)
	}
	t.Listing = true
	return t, nil
}

// evalWithin evaluates the symbolic links in abs and verifies the result is
// local to root.
func evalWithin(root, abs, urlPath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &ErrNotAccessible{Path: urlPath, Cause: err}
	}
	if !isLocalTo(resolved, root) {
		return "", &ErrEscapesBase{Base: root, Subpath: urlPath}
	}
	return resolved, nil
}

// isLocalTo reports whether p, after cleaning, is root or lies below it.
func isLocalTo(p, root string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}
