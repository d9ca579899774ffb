//go:build !linux

package safepath

import (
	"os"
	"path/filepath"
)

// Open opens the file at resolved, a path returned by Resolve for the same
// root, after checking again that it has not been moved outside of root.
func Open(root, resolved string) (*os.File, error) {
	p, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		return nil, &ErrNotAccessible{Path: resolved, Cause: err}
	}
	if !isLocalTo(p, root) {
		return nil, &ErrEscapesBase{Base: root, Subpath: resolved}
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, &ErrNotAccessible{Path: p, Cause: err}
	}
	return f, nil
}
