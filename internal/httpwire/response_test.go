package httpwire

import (
	"bufio"
	"bytes"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestWriteHeader(t *testing.T) {
	res := NewResponse(206)
	res.Header.Set("content-type", "text/plain")
	res.Header.Set("Content-Range", "bytes 0-1/2")
	res.Header.Set("accept-ranges", "bytes")

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	assert.NilError(t, WriteHeader(w, res))
	assert.NilError(t, w.Flush())

	expected := strings.Join([]string{
		"HTTP/1.1 206 Partial Content",
		"Accept-Ranges: bytes",
		"Content-Range: bytes 0-1/2",
		"Content-Type: text/plain",
		"", "",
	}, "\r\n")
	assert.Check(t, is.Equal(expected, buf.String()))
}

func TestStatusLine(t *testing.T) {
	assert.Check(t, is.Equal("HTTP/1.1 404 Not Found", StatusLine(404)))
	assert.Check(t, is.Equal("HTTP/1.1 431 Request Header Fields Too Large", StatusLine(431)))
	assert.Check(t, is.Equal("HTTP/1.1 599 status code 599", StatusLine(599)))
}

func TestResponseContentLength(t *testing.T) {
	res := NewResponse(200)
	res.Body = []byte("hello")
	assert.Check(t, is.Equal(int64(5), res.ContentLength()))

	res.Content = strings.NewReader("ignored body")
	res.Length = 3
	assert.Check(t, is.Equal(int64(3), res.ContentLength()))
}

func TestFormatTime(t *testing.T) {
	ts := time.Date(2015, time.October, 21, 9, 28, 0, 0, time.FixedZone("PDT", -7*3600))
	assert.Check(t, is.Equal("Wed, 21 Oct 2015 16:28:00 GMT", FormatTime(ts)))
}
