package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/moby/fsd/daemon/config"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"
)

type mockAddr struct {
	str string
}

func (m mockAddr) Network() string { return "tcp" }
func (m mockAddr) String() string  { return m.str }

// mockConn replays a client's bytes and records what the server writes.
type mockConn struct {
	in     *strings.Reader
	out    bytes.Buffer
	closed bool
}

func newMockConn(input string) *mockConn {
	return &mockConn{in: strings.NewReader(input)}
}

func (m *mockConn) Read(b []byte) (int, error)         { return m.in.Read(b) }
func (m *mockConn) Write(b []byte) (int, error)        { return m.out.Write(b) }
func (m *mockConn) Close() error                       { m.closed = true; return nil }
func (m *mockConn) LocalAddr() net.Addr                { return mockAddr{"(server)"} }
func (m *mockConn) RemoteAddr() net.Addr               { return mockAddr{"(client)"} }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

// newDocRoot creates a document root and a sibling directory that must
// never be served.
func newDocRoot(t *testing.T) string {
	t.Helper()
	dir := fs.NewDir(t, "server",
		fs.WithDir("outside", fs.WithFile("secret.txt", "top secret")),
		fs.WithDir("root",
			fs.WithFile("hello.txt", "hello world"),
			fs.WithFile("style.css", "body{}"),
			fs.WithDir("docs", fs.WithFile("index.html", "<p>docs</p>")),
			fs.WithDir("files",
				fs.WithFile("b.bin", "bb"),
				fs.WithFile("A.txt", "a"),
			),
			fs.WithSymlink("escape.txt", "../outside/secret.txt"),
		),
	)
	return filepath.Join(dir.Path(), "root")
}

func newTestServer(t *testing.T, mutators ...func(*config.Config)) *Server {
	t.Helper()
	cfg := config.New()
	cfg.Root = newDocRoot(t)
	for _, m := range mutators {
		m(cfg)
	}
	s, err := New(cfg)
	assert.NilError(t, err)
	return s
}

// runConn feeds input through a connection state machine and returns the
// connection once it has been closed.
func runConn(t *testing.T, s *Server, input string) *mockConn {
	t.Helper()
	mc := newMockConn(input)
	c := s.newConn(mc)
	assert.Assert(t, s.trackConn(c))
	c.serve(context.Background())
	assert.Check(t, mc.closed, "connection not closed")
	assert.Check(t, is.Equal(0, s.ActiveConnections()))
	return mc
}

type response struct {
	*http.Response
	body string
}

// readResponses parses every response written to mc; methods lists the
// request method each response answers.
func readResponses(t *testing.T, mc *mockConn, methods ...string) []response {
	t.Helper()
	br := bufio.NewReader(&mc.out)
	var out []response
	for _, m := range methods {
		res, err := http.ReadResponse(br, &http.Request{Method: m})
		assert.NilError(t, err)
		body, err := io.ReadAll(res.Body)
		assert.NilError(t, err)
		out = append(out, response{Response: res, body: string(body)})
	}
	_, err := br.Peek(1)
	assert.Check(t, is.Equal(io.EOF, err), "unexpected trailing output")
	return out
}

func TestConnGet(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /hello.txt HTTP/1.1\r\nHost: localhost\r\n\r\n")

	res := readResponses(t, mc, "GET")[0]
	assert.Check(t, is.Equal(http.StatusOK, res.StatusCode))
	assert.Check(t, is.Equal("hello world", res.body))
	assert.Check(t, is.Equal(int64(11), res.ContentLength))
	assert.Check(t, is.Equal("text/plain; charset=utf-8", res.Header.Get("Content-Type")))
	assert.Check(t, is.Equal("keep-alive", res.Header.Get("Connection")))
	assert.Check(t, is.Equal("bytes", res.Header.Get("Accept-Ranges")))
	assert.Check(t, res.Header.Get("Date") != "")
	assert.Check(t, res.Header.Get("Last-Modified") != "")
	assert.Check(t, strings.HasPrefix(res.Header.Get("Server"), "fsd/"))
}

func TestConnHeadMirrorsGet(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /style.css HTTP/1.1\r\n\r\nHEAD /style.css HTTP/1.1\r\n\r\n")

	res := readResponses(t, mc, "GET", "HEAD")
	get, head := res[0], res[1]
	assert.Check(t, is.Equal(http.StatusOK, head.StatusCode))
	assert.Check(t, is.Equal("", head.body))
	assert.Check(t, is.Equal("body{}", get.body))
	get.Header.Del("Date")
	head.Header.Del("Date")
	assert.Check(t, is.DeepEqual(get.Header, head.Header))
}

func TestConnKeepAlive(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /hello.txt HTTP/1.1\r\n\r\n"+
		"GET /style.css HTTP/1.1\r\n\r\n"+
		"GET /hello.txt HTTP/1.1\r\nConnection: close\r\n\r\n"+
		"GET /never-answered HTTP/1.1\r\n\r\n")

	res := readResponses(t, mc, "GET", "GET", "GET")
	assert.Check(t, is.Equal("hello world", res[0].body))
	assert.Check(t, is.Equal("body{}", res[1].body))
	assert.Check(t, !res[0].Close)
	assert.Check(t, !res[1].Close)
	assert.Check(t, res[2].Close, "expected Connection: close")
}

func TestConnHTTP10(t *testing.T) {
	s := newTestServer(t)

	mc := runConn(t, s, "GET /hello.txt HTTP/1.0\r\n\r\nGET /hello.txt HTTP/1.0\r\n\r\n")
	assert.Check(t, is.Contains(mc.out.String(), "\r\nConnection: close\r\n"))
	res := readResponses(t, mc, "GET")
	assert.Check(t, res[0].Close, "expected Connection: close")

	mc = runConn(t, s, "GET /hello.txt HTTP/1.0\r\nConnection: keep-alive\r\n\r\nGET /hello.txt HTTP/1.0\r\n\r\n")
	res = readResponses(t, mc, "GET", "GET")
	assert.Check(t, is.Equal("keep-alive", res[0].Header.Get("Connection")))
	assert.Check(t, res[1].Close, "expected Connection: close")
}

func TestConnNotFound(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /missing.txt HTTP/1.1\r\n\r\nGET /../outside/secret.txt HTTP/1.1\r\n\r\n")

	for _, res := range readResponses(t, mc, "GET", "GET") {
		assert.Check(t, is.Equal(http.StatusNotFound, res.StatusCode))
		assert.Check(t, is.Contains(res.body, "404 Not Found"))
		assert.Check(t, !strings.Contains(res.body, s.Root()))
		assert.Check(t, !strings.Contains(res.body, "secret"))
		assert.Check(t, is.Equal("keep-alive", res.Header.Get("Connection")))
	}
}

func TestConnTraversal(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /escape.txt HTTP/1.1\r\n\r\n"+
		"GET /%2e%2e/outside/secret.txt HTTP/1.1\r\n\r\n"+
		"GET /docs/../../outside/secret.txt HTTP/1.1\r\n\r\n")

	res := readResponses(t, mc, "GET", "GET", "GET")
	assert.Check(t, is.Equal(http.StatusForbidden, res[0].StatusCode))
	for _, r := range res {
		assert.Check(t, !strings.Contains(r.body, "top secret"))
		assert.Check(t, !strings.Contains(r.body, s.Root()))
	}
}

func TestConnRange(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /hello.txt HTTP/1.1\r\nRange: bytes=0-0\r\n\r\n"+
		"GET /hello.txt HTTP/1.1\r\nRange: bytes=-5\r\n\r\n"+
		"GET /hello.txt HTTP/1.1\r\nRange: bytes=100-\r\n\r\n"+
		"GET /hello.txt HTTP/1.1\r\nRange: bytes=0-1,3-4\r\n\r\n"+
		"HEAD /hello.txt HTTP/1.1\r\nRange: bytes=2-4\r\n\r\n"+
		"GET /hello.txt HTTP/1.1\r\nRange: bytes=0-99999999999999999999\r\n\r\n")

	res := readResponses(t, mc, "GET", "GET", "GET", "GET", "HEAD", "GET")

	assert.Check(t, is.Equal(http.StatusPartialContent, res[0].StatusCode))
	assert.Check(t, is.Equal("h", res[0].body))
	assert.Check(t, is.Equal("bytes 0-0/11", res[0].Header.Get("Content-Range")))
	assert.Check(t, is.Equal(int64(1), res[0].ContentLength))

	assert.Check(t, is.Equal(http.StatusPartialContent, res[1].StatusCode))
	assert.Check(t, is.Equal("world", res[1].body))

	assert.Check(t, is.Equal(http.StatusRequestedRangeNotSatisfiable, res[2].StatusCode))
	assert.Check(t, is.Equal("bytes */11", res[2].Header.Get("Content-Range")))

	assert.Check(t, is.Equal(http.StatusOK, res[3].StatusCode))
	assert.Check(t, is.Equal("hello world", res[3].body))

	assert.Check(t, is.Equal(http.StatusPartialContent, res[4].StatusCode))
	assert.Check(t, is.Equal("bytes 2-4/11", res[4].Header.Get("Content-Range")))
	assert.Check(t, is.Equal(int64(3), res[4].ContentLength))

	assert.Check(t, is.Equal(http.StatusPartialContent, res[5].StatusCode))
	assert.Check(t, is.Equal("bytes 0-10/11", res[5].Header.Get("Content-Range")))
	assert.Check(t, is.Equal("hello world", res[5].body))
}

func TestConnMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "POST /hello.txt HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"+
		"DELETE /hello.txt HTTP/1.1\r\n\r\n"+
		"GET /hello.txt HTTP/1.1\r\n\r\n")

	res := readResponses(t, mc, "POST", "DELETE", "GET")
	for _, r := range res[:2] {
		assert.Check(t, is.Equal(http.StatusMethodNotAllowed, r.StatusCode))
		assert.Check(t, is.Equal("GET, HEAD", r.Header.Get("Allow")))
		assert.Check(t, is.Equal("keep-alive", r.Header.Get("Connection")))
	}
	assert.Check(t, is.Equal("hello world", res[2].body))
}

func TestConnProtocolErrors(t *testing.T) {
	tests := []struct {
		doc      string
		input    string
		expected int
	}{
		{doc: "malformed request line", input: "GARBAGE\r\n\r\n", expected: http.StatusBadRequest},
		{doc: "bad header", input: "GET / HTTP/1.1\r\nno colon here\r\n\r\n", expected: http.StatusBadRequest},
		{doc: "bad content length", input: "GET / HTTP/1.1\r\nContent-Length: x\r\n\r\n", expected: http.StatusBadRequest},
		{doc: "header too large", input: "GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 10000) + "\r\n\r\n", expected: http.StatusRequestHeaderFieldsTooLarge},
		{doc: "http/2", input: "GET / HTTP/2.0\r\n\r\n", expected: http.StatusHTTPVersionNotSupported},
	}
	for _, tc := range tests {
		t.Run(tc.doc, func(t *testing.T) {
			s := newTestServer(t)
			mc := runConn(t, s, tc.input+"GET /hello.txt HTTP/1.1\r\n\r\n")
			assert.Check(t, is.Contains(mc.out.String(), "\r\nConnection: close\r\n"))

			res := readResponses(t, mc, "GET")[0]
			assert.Check(t, is.Equal(tc.expected, res.StatusCode))
			assert.Check(t, res.Close, "expected Connection: close")
			assert.Check(t, is.Equal("text/html; charset=utf-8", res.Header.Get("Content-Type")))
		})
	}
}

func TestConnBadTargetKeepsConnection(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /%zz HTTP/1.1\r\n\r\nGET /hello.txt HTTP/1.1\r\n\r\n")

	res := readResponses(t, mc, "GET", "GET")
	assert.Check(t, is.Equal(http.StatusBadRequest, res[0].StatusCode))
	assert.Check(t, is.Equal("hello world", res[1].body))
}

func TestConnClientGoesAway(t *testing.T) {
	s := newTestServer(t)

	mc := runConn(t, s, "")
	assert.Check(t, is.Equal(0, mc.out.Len()))

	mc = runConn(t, s, "GET /hello.txt HTTP/1.1\r\nHost: loc")
	assert.Check(t, is.Equal(0, mc.out.Len()))
}

func TestConnRedirect(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /docs HTTP/1.1\r\n\r\n"+
		"GET /docs?lang=en HTTP/1.1\r\n\r\n"+
		"GET //docs HTTP/1.1\r\n\r\n"+
		"GET /docs/ HTTP/1.1\r\n\r\n")

	res := readResponses(t, mc, "GET", "GET", "GET", "GET")
	assert.Check(t, is.Equal(http.StatusMovedPermanently, res[0].StatusCode))
	assert.Check(t, is.Equal("/docs/", res[0].Header.Get("Location")))
	assert.Check(t, is.Equal("/docs/?lang=en", res[1].Header.Get("Location")))
	assert.Check(t, is.Equal("/docs/", res[2].Header.Get("Location")))
	assert.Check(t, is.Equal("<p>docs</p>", res[3].body))
	assert.Check(t, is.Equal("text/html; charset=utf-8", res[3].Header.Get("Content-Type")))
}

func TestConnDirectoryListing(t *testing.T) {
	s := newTestServer(t)
	mc := runConn(t, s, "GET /files/ HTTP/1.1\r\n\r\nGET /files/ HTTP/1.1\r\nRange: bytes=0-0\r\n\r\n")

	res := readResponses(t, mc, "GET", "GET")
	assert.Check(t, is.Equal(http.StatusOK, res[0].StatusCode))
	assert.Check(t, is.Contains(res[0].body, "Directory listing for /files/"))
	assert.Check(t, strings.Index(res[0].body, "A.txt") < strings.Index(res[0].body, "b.bin"))
	assert.Check(t, is.Equal(http.StatusOK, res[1].StatusCode))

	noList := newTestServer(t, func(cfg *config.Config) { cfg.NoListing = true })
	mc = runConn(t, noList, "GET /files/ HTTP/1.1\r\n\r\n")
	assert.Check(t, is.Equal(http.StatusForbidden, readResponses(t, mc, "GET")[0].StatusCode))
}
