package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/containerd/log"
	"github.com/google/uuid"
	"github.com/moby/fsd/daemon/server/httpstatus"
	"github.com/moby/fsd/internal/httpwire"
	"github.com/moby/fsd/version"
)

// chunkSize is the largest piece of a file written with one write deadline.
const chunkSize = 32 << 10

// conn is one client connection. It is owned by the goroutine running
// serve; only idle is shared with the server, under the server's mutex.
type conn struct {
	srv *Server
	rwc net.Conn
	id  string
	br  *bufio.Reader
	bw  *bufio.Writer
	log *log.Entry

	// idle is set while waiting for the next request.
	idle bool

	requests  int
	keepAlive bool
	started   time.Time

	req *httpwire.Request
	// reqErr is the error the current response reports.
	reqErr error
	res    *httpwire.Response
	// file backs res.Content and is closed once the response is written.
	file *os.File
	// size is the size of the file a 416 response refers to.
	size int64
}

type stateFunc func(*conn) stateFunc

func (s *Server) newConn(rwc net.Conn) *conn {
	return &conn{
		srv: s,
		rwc: rwc,
		id:  uuid.New().String()[:8],
		br:  bufio.NewReader(rwc),
		bw:  bufio.NewWriterSize(rwc, 4<<10),
	}
}

// serve runs the connection state machine until the connection is closed.
func (c *conn) serve(ctx context.Context) {
	c.log = log.G(ctx).WithFields(log.Fields{
		"conn":   c.id,
		"remote": c.rwc.RemoteAddr().String(),
	})
	defer func() {
		if r := recover(); r != nil {
			c.log.WithField("panic", r).Errorf("panic serving connection\n%s", debug.Stack())
		}
		c.close()
	}()

	c.log.Debug("connection accepted")
	for state := readRequest; state != nil; {
		state = state(c)
	}
}

func (c *conn) close() {
	c.closeFile()
	if err := c.rwc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.log.WithError(err).Debug("error closing connection")
	}
	c.srv.untrackConn(c)
	c.log.WithField("requests", c.requests).Debug("connection closed")
}

func (c *conn) closeFile() {
	if c.file != nil {
		c.file.Close()
		c.file = nil
	}
}

func (c *conn) reset() {
	c.closeFile()
	c.req, c.reqErr, c.res, c.size = nil, nil, nil, 0
}

// readRequest waits for the next request head, up to the idle timeout.
func readRequest(c *conn) stateFunc {
	c.reset()
	if !c.srv.setIdle(c) {
		return nil
	}
	if _, err := c.br.Peek(1); err != nil {
		if isTimeout(err) {
			c.log.Debug("idle timeout")
		}
		return nil
	}
	c.srv.setActive(c)
	c.started = time.Now()

	req, err := httpwire.ReadRequest(c.br, c.srv.maxHeaderBytes)
	if req == nil {
		switch {
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), isTimeout(err), errors.Is(err, net.ErrClosed):
			c.log.WithError(err).Debug("connection closed while reading request")
			return nil
		}
		// The stream cannot be resynchronised after a broken head.
		c.keepAlive = false
		c.reqErr = err
		return sendError
	}

	c.req = req
	c.requests++
	c.keepAlive = req.KeepAlive()
	if req.HasBody() {
		if derr := req.DiscardBody(c.br, httpwire.DefaultMaxDiscardBytes); derr != nil {
			c.log.WithError(derr).Debug("request body not discarded")
			c.keepAlive = false
		}
	}
	if err != nil {
		c.reqErr = err
		return sendError
	}
	return dispatch
}

// sendError prepares the response for c.reqErr.
func sendError(c *conn) stateFunc {
	status := httpstatus.FromError(c.reqErr)
	c.closeFile()
	c.res = errorResponse(status)
	switch status {
	case http.StatusMethodNotAllowed:
		c.res.Header.Set("Allow", "GET, HEAD")
	case http.StatusRequestedRangeNotSatisfiable:
		c.res.Header.Set("Content-Range", httpwire.UnsatisfiedRange(c.size))
	}
	if status >= http.StatusInternalServerError {
		c.log.WithError(c.reqErr).Error("error serving request")
	} else {
		c.log.WithError(c.reqErr).Debug("request failed")
	}
	return writeResponse
}

// writeResponse writes c.res and decides whether the connection is reused.
func writeResponse(c *conn) stateFunc {
	res := c.res
	if c.srv.isShuttingDown() {
		c.keepAlive = false
	}

	res.Header.Set("Date", httpwire.FormatTime(time.Now()))
	res.Header.Set("Server", version.ServerName())
	res.Header.Set("Content-Length", strconv.FormatInt(res.ContentLength(), 10))
	if c.keepAlive {
		res.Header.Set("Connection", "keep-alive")
	} else {
		res.Header.Set("Connection", "close")
	}

	c.setWriteDeadline()
	err := httpwire.WriteHeader(c.bw, res)
	var n int64
	if err == nil && (c.req == nil || c.req.Method != "HEAD") {
		n, err = c.writeBody(res)
	}
	if err == nil {
		err = c.bw.Flush()
	}
	c.closeFile()
	c.logRequest(res.Status, n, err)

	if err != nil || !c.keepAlive {
		return nil
	}
	return readRequest
}

func (c *conn) writeBody(res *httpwire.Response) (int64, error) {
	if res.Content == nil {
		n, err := c.bw.Write(res.Body)
		return int64(n), err
	}
	if err := c.bw.Flush(); err != nil {
		return 0, err
	}
	buf := make([]byte, chunkSize)
	sr := io.NewSectionReader(res.Content, res.Offset, res.Length)
	var written int64
	for written < res.Length {
		nr, rerr := sr.Read(buf)
		if nr > 0 {
			c.setWriteDeadline()
			nw, werr := c.bw.Write(buf[:nr])
			written += int64(nw)
			if werr != nil {
				return written, werr
			}
		}
		if rerr == io.EOF && written < res.Length {
			// The file shrank after its size was announced.
			return written, io.ErrUnexpectedEOF
		}
		if rerr != nil && rerr != io.EOF {
			return written, rerr
		}
	}
	return written, nil
}

func (c *conn) setWriteDeadline() {
	if c.srv.writeTimeout > 0 {
		c.rwc.SetWriteDeadline(time.Now().Add(c.srv.writeTimeout))
	}
}

func (c *conn) logRequest(status int, n int64, err error) {
	method, path := "-", "-"
	if c.req != nil {
		method, path = c.req.Method, c.req.Target
	}
	d := time.Since(c.started)
	fields := log.Fields{
		"method":   method,
		"path":     path,
		"status":   status,
		"bytes":    n,
		"duration": d,
	}
	m := method
	if m != "GET" && m != "HEAD" {
		m = "other"
	}
	requestsCounter.WithValues(strconv.Itoa(status), m).Inc()
	requestDuration.WithValues(m).Update(d)
	bytesSent.Inc(float64(n))
	if err != nil {
		c.log.WithFields(fields).WithError(err).Warn("response aborted")
		return
	}
	c.log.WithFields(fields).Info("request")
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
