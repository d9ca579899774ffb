package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/moby/fsd/daemon/server/dirlist"
	"github.com/moby/fsd/internal/httpwire"
	"github.com/moby/fsd/internal/mimetype"
	"github.com/moby/fsd/internal/safepath"
	"github.com/pkg/errors"
)

const htmlType = "text/html; charset=utf-8"

// dispatch maps the request onto the document root and prepares the
// response.
func dispatch(c *conn) stateFunc {
	target, err := safepath.Resolve(c.srv.root, c.req.Path, safepath.Options{Listing: c.srv.listing})
	if err != nil {
		c.reqErr = err
		return sendError
	}

	switch {
	case target.Redirect:
		c.res = redirectResponse(c.req)
	case target.Listing:
		entries, err := dirlist.Read(target.Path)
		if err != nil {
			c.reqErr = &safepath.ErrNotAccessible{Path: target.URLPath, Cause: errors.Cause(err)}
			return sendError
		}
		c.res = httpwire.NewResponse(http.StatusOK)
		c.res.Header.Set("Content-Type", htmlType)
		c.res.Body = dirlist.Render(target.URLPath, entries)
	default:
		if err := c.openFile(target); err != nil {
			c.reqErr = err
			return sendError
		}
	}
	return writeResponse
}

// openFile prepares a 200 or 206 response streaming the file at target.
func (c *conn) openFile(target *safepath.Target) error {
	f, err := safepath.Open(c.srv.root, target.Path)
	if err != nil {
		return err
	}
	c.file = f
	fi, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "stat")
	}
	if !fi.Mode().IsRegular() {
		return &safepath.ErrNotAccessible{Path: target.URLPath, Cause: errors.New("not a regular file")}
	}
	size := fi.Size()

	res := httpwire.NewResponse(http.StatusOK)
	res.Header.Set("Content-Type", mimetype.TypeByName(target.Path))
	res.Header.Set("Last-Modified", httpwire.FormatTime(fi.ModTime()))
	res.Header.Set("Accept-Ranges", "bytes")
	res.Content = f
	res.Length = size

	r, ok, err := httpwire.ParseRange(c.req.Header.Get("Range"), size)
	if err != nil {
		c.size = size
		return err
	}
	if ok {
		res.Status = http.StatusPartialContent
		res.Header.Set("Content-Range", r.ContentRange(size))
		res.Offset = r.Start
		res.Length = r.Length
	}
	c.res = res
	return nil
}

// redirectResponse sends a client that asked for a directory without the
// trailing slash to the slash-terminated location.
func redirectResponse(req *httpwire.Request) *httpwire.Response {
	loc := req.RawPath + "/"
	// A location starting with "//" would be taken as a host name.
	if strings.HasPrefix(loc, "//") {
		loc = "/" + strings.TrimLeft(loc, "/")
	}
	if req.RawQuery != "" {
		loc += "?" + req.RawQuery
	}
	res := httpwire.NewResponse(http.StatusMovedPermanently)
	res.Header.Set("Location", loc)
	res.Header.Set("Content-Type", htmlType)
	res.Body = statusPage(http.StatusMovedPermanently)
	return res
}

func errorResponse(status int) *httpwire.Response {
	res := httpwire.NewResponse(status)
	res.Header.Set("Content-Type", htmlType)
	res.Body = statusPage(status)
	return res
}

// statusPage returns a short HTML page naming only the status.
func statusPage(status int) []byte {
	code := strconv.Itoa(status)
	text := http.StatusText(status)
	return []byte("<!DOCTYPE HTML>\n<html lang=\"en\">\n<head>\n<meta charset=\"utf-8\">\n" +
		"<title>" + code + " " + text + "</title>\n</head>\n<body>\n" +
		"<h1>" + code + " " + text + "</h1>\n</body>\n</html>\n")
}
