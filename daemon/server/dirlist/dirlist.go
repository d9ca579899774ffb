// Package dirlist renders the HTML index of a directory.
package dirlist

import (
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// Entry is one line of a listing.
type Entry struct {
	Name    string
	IsDir   bool
	Symlink bool
	Size    int64
}

// Read returns the entries of dir sorted by name, ignoring case. A symbolic
// link is reported as a directory when its target is one.
func Read(dir string) ([]Entry, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading directory")
	}
	entries := make([]Entry, 0, len(des))
	for _, de := range des {
		e := Entry{Name: de.Name(), IsDir: de.IsDir(), Symlink: de.Type()&os.ModeSymlink != 0}
		if e.Symlink {
			if fi, err := os.Stat(filepath.Join(dir, e.Name)); err == nil {
				e.IsDir = fi.IsDir()
				if !e.IsDir {
					e.Size = fi.Size()
				}
			}
		} else if !e.IsDir {
			if fi, err := de.Info(); err == nil {
				e.Size = fi.Size()
			}
		}
		entries = append(entries, e)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
	return entries, nil
}

// Render returns the listing page for the directory served at urlPath.
func Render(urlPath string, entries []Entry) []byte {
	title := html.EscapeString("Directory listing for " + urlPath)

	var b strings.Builder
	b.WriteString("<!DOCTYPE HTML>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<title>" + title + "</title>\n</head>\n<body>\n")
	b.WriteString("<h1>" + title + "</h1>\n<hr>\n<ul>\n")
	for _, e := range entries {
		display, link := e.Name, e.Name
		if e.IsDir {
			display += "/"
			link += "/"
		}
		if e.Symlink {
			display = e.Name + "@"
		}
		b.WriteString(`<li><a href="` + html.EscapeString(escapeLink(link)) + `">` + html.EscapeString(display) + "</a>")
		if !e.IsDir {
			b.WriteString(" " + units.HumanSize(float64(e.Size)))
		}
		b.WriteString("</li>\n")
	}
	b.WriteString("</ul>\n<hr>\n</body>\n</html>\n")
	return []byte(b.String())
}

// escapeLink percent-encodes a relative link. A colon is escaped as well so
// the first segment is never read as a URL scheme.
func escapeLink(name string) string {
	dir := strings.HasSuffix(name, "/")
	s := strings.ReplaceAll(url.PathEscape(strings.TrimSuffix(name, "/")), ":", "%3A")
	if dir {
		s += "/"
	}
	return s
}
