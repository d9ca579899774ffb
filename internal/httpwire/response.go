package httpwire

import (
	"bufio"
	"io"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"time"
)

// Response describes one response. The body is either held in Body or read
// from Content, starting at Offset, for Length bytes.
type Response struct {
	Status int
	Header Header
	Body   []byte

	Content io.ReaderAt
	Offset  int64
	Length  int64
}

// NewResponse returns a response with an empty header.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(Header)}
}

// ContentLength returns the number of body bytes the response carries.
func (res *Response) ContentLength() int64 {
	if res.Content != nil {
		return res.Length
	}
	return int64(len(res.Body))
}

// StatusLine returns the status line for code, without the line terminator.
func StatusLine(code int) string {
	text := http.StatusText(code)
	if text == "" {
		text = "status code " + strconv.Itoa(code)
	}
	return "HTTP/1.1 " + strconv.Itoa(code) + " " + text
}

// WriteHeader writes the status line and the header fields of res followed
// by the empty line that ends the head. Field names are written in their
// canonical form and in sorted order.
func WriteHeader(w *bufio.Writer, res *Response) error {
	if _, err := w.WriteString(StatusLine(res.Status) + "\r\n"); err != nil {
		return err
	}
	keys := make([]string, 0, len(res.Header))
	for k := range res.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := w.WriteString(textproto.CanonicalMIMEHeaderKey(k) + ": " + res.Header[k] + "\r\n"); err != nil {
			return err
		}
	}
	_, err := w.WriteString("\r\n")
	return err
}

// FormatTime formats t as an HTTP-date.
func FormatTime(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
