// Package httpwire reads and writes the HTTP/1.x subset spoken by the file
// server: request heads, response heads and byte ranges.
package httpwire

import (
	"bufio"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/http/httpguts"
)

// DefaultMaxHeaderBytes is the default limit for the size of a request head,
// request line included.
const DefaultMaxHeaderBytes = 8 << 10

// Header holds header fields keyed by their lower-cased name.
// Not map[string][]string, unlike http.Header: the last value wins.
type Header map[string]string

// Get returns the value of the named field, or "".
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Set sets the named field, replacing any previous value.
func (h Header) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

// Del removes the named field.
func (h Header) Del(name string) {
	delete(h, strings.ToLower(name))
}

// Has reports whether the named field is present.
func (h Header) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// Request is a parsed request head. It is immutable once returned by
// ReadRequest.
type Request struct {
	Method string
	// Target is the request-target exactly as received.
	Target string
	// RawPath is the escaped path of the target, without query or fragment.
	RawPath string
	// Path is the percent-decoded RawPath.
	Path     string
	RawQuery string
	Proto    string
	// ProtoMinor is the minor HTTP version; the major version is always 1.
	ProtoMinor int
	Header     Header
	// ContentLength is the declared body length, or -1 when the request
	// carries no Content-Length.
	ContentLength int64
	// Chunked is set when the body uses the chunked transfer coding.
	Chunked bool
}

// KeepAlive reports whether the client allows the connection to be reused
// after this request.
func (r *Request) KeepAlive() bool {
	v := r.Header["connection"]
	if r.ProtoMinor >= 1 {
		return !httpguts.HeaderValuesContainsToken([]string{v}, "close")
	}
	return httpguts.HeaderValuesContainsToken([]string{v}, "keep-alive")
}

// HasBody reports whether a body follows the head.
func (r *Request) HasBody() bool {
	return r.Chunked || r.ContentLength > 0
}

// ReadRequest reads one request head from br. At most maxHeaderBytes bytes
// are consumed for the request line and header fields together.
//
// io.EOF is returned unwrapped when the stream ends before the first byte of
// a request. When the head was read completely but names an unsupported
// method or an unusable target, the request is returned together with the
// error so the caller can answer it and keep the connection; for every
// other error the returned request is nil and the stream is no longer in a
// usable state.
func ReadRequest(br *bufio.Reader, maxHeaderBytes int) (*Request, error) {
	if maxHeaderBytes <= 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	hr := &headReader{r: br, left: maxHeaderBytes}

	var (
		line string
		err  error
	)
	// Robust servers ignore at least one empty line received prior to the
	// request line (RFC 9112, section 2.2).
	for first := true; ; first = false {
		line, err = hr.readLine()
		if err != nil {
			if err == io.EOF && !first {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line != "" {
			break
		}
	}

	req := &Request{ContentLength: -1}
	if err := req.parseRequestLine(line); err != nil {
		return nil, err
	}
	if req.Header, err = hr.readHeader(); err != nil {
		return nil, err
	}
	if err := req.parseFraming(); err != nil {
		return nil, err
	}

	// The head has been consumed completely from here on.
	if err := req.parseTarget(); err != nil {
		return req, err
	}
	switch req.Method {
	case "GET", "HEAD":
	default:
		return req, errors.Wrapf(ErrMethodNotAllowed, "method %s", req.Method)
	}
	return req, nil
}

func (r *Request) parseRequestLine(line string) error {
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || target == "" || strings.ContainsAny(target, " \t") {
		return errors.Wrapf(ErrMalformedRequest, "invalid request line %q", line)
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return errors.Wrapf(ErrMalformedRequest, "invalid method %q", method)
	}
	major, minor, ok := parseHTTPVersion(proto)
	if !ok {
		return errors.Wrapf(ErrMalformedRequest, "invalid protocol version %q", proto)
	}
	if major != 1 {
		return errors.Wrapf(ErrVersionNotSupported, "%s", proto)
	}
	r.Method = method
	r.Target = target
	r.Proto = proto
	r.ProtoMinor = minor
	return nil
}

// parseHTTPVersion parses "HTTP/x.y" where x and y are single digits.
func parseHTTPVersion(v string) (major, minor int, ok bool) {
	if len(v) != len("HTTP/1.1") || !strings.HasPrefix(v, "HTTP/") || v[6] != '.' {
		return 0, 0, false
	}
	if !isDigit(v[5]) || !isDigit(v[7]) {
		return 0, 0, false
	}
	return int(v[5] - '0'), int(v[7] - '0'), true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func (r *Request) parseFraming() error {
	cl, hasCL := r.Header["content-length"]
	te, hasTE := r.Header["transfer-encoding"]
	if hasCL && hasTE {
		return errors.Wrap(ErrMalformedRequest, "both Content-Length and Transfer-Encoding present")
	}
	if hasTE {
		if !strings.EqualFold(strings.TrimSpace(te), "chunked") {
			return errors.Wrapf(ErrMalformedRequest, "unsupported transfer coding %q", te)
		}
		r.Chunked = true
	}
	if hasCL {
		n, ok := parseDigits(strings.TrimSpace(cl))
		if !ok {
			return errors.Wrapf(ErrMalformedRequest, "invalid Content-Length %q", cl)
		}
		r.ContentLength = n
	}
	return nil
}

// parseDigits parses a non-negative decimal number without sign.
func parseDigits(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func (r *Request) parseTarget() error {
	target := r.Target
	if i := strings.IndexByte(target, '#'); i >= 0 {
		target = target[:i]
	}
	switch {
	case strings.HasPrefix(target, "/"):
		r.RawPath, r.RawQuery, _ = strings.Cut(target, "?")
	case hasHTTPScheme(target):
		u, err := url.Parse(target)
		if err != nil {
			return errors.Wrapf(ErrMalformedRequest, "invalid request target %q", r.Target)
		}
		r.RawPath = u.EscapedPath()
		if r.RawPath == "" {
			r.RawPath = "/"
		}
		r.RawQuery = u.RawQuery
	default:
		return errors.Wrapf(ErrMalformedRequest, "unsupported request target %q", r.Target)
	}

	p, err := url.PathUnescape(r.RawPath)
	if err != nil {
		return errors.Wrapf(ErrMalformedRequest, "invalid escape in path %q", r.RawPath)
	}
	if strings.IndexByte(p, 0) >= 0 {
		return errors.Wrapf(ErrMalformedRequest, "NUL byte in path %q", r.RawPath)
	}
	r.Path = p
	return nil
}

func hasHTTPScheme(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// headReader reads CRLF (or bare LF) terminated lines and charges them
// against the remaining header budget.
type headReader struct {
	r    *bufio.Reader
	left int
}

func (hr *headReader) readLine() (string, error) {
	var line []byte
	for {
		frag, err := hr.r.ReadSlice('\n')
		hr.left -= len(frag)
		if hr.left < 0 {
			return "", ErrRequestTooLarge
		}
		line = append(line, frag...)
		if err == nil {
			break
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if err == io.EOF && len(line) > 0 {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	line = line[:len(line)-1]
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	return string(line), nil
}

func (hr *headReader) readHeader() (Header, error) {
	h := make(Header)
	for {
		line, err := hr.readLine()
		if err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		if line == "" {
			return h, nil
		}
		if line[0] == ' ' || line[0] == '\t' {
			return nil, errors.Wrap(ErrMalformedRequest, "obsolete line folding")
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok || !httpguts.ValidHeaderFieldName(name) {
			return nil, errors.Wrapf(ErrMalformedRequest, "invalid header line %q", line)
		}
		value = strings.Trim(value, " \t")
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, errors.Wrapf(ErrMalformedRequest, "invalid value for header %q", name)
		}
		h[strings.ToLower(name)] = value
	}
}
