package httpwire

import (
	"bufio"
	"io"
	"net/http/httputil"

	"github.com/pkg/errors"
)

// DefaultMaxDiscardBytes bounds how much of an unwanted request body is read
// and thrown away to keep a connection reusable.
const DefaultMaxDiscardBytes = 256 << 10

// DiscardBody consumes the body of r from br so the next request head can be
// read from the same stream. Bodies longer than limit are not consumed and
// ErrBodyTooLarge is returned; the connection must then be closed.
func (r *Request) DiscardBody(br *bufio.Reader, limit int64) error {
	switch {
	case r.Chunked:
		n, err := io.CopyN(io.Discard, httputil.NewChunkedReader(br), limit+1)
		if err == nil || n > limit {
			return ErrBodyTooLarge
		}
		if err != io.EOF {
			return errors.Wrap(err, "discarding chunked body")
		}
		// The chunked reader stops at the last-chunk; the trailer section
		// up to the terminating empty line is still in the stream.
		hr := &headReader{r: br, left: DefaultMaxHeaderBytes}
		if _, err := hr.readHeader(); err != nil {
			return errors.Wrap(err, "discarding chunked trailer")
		}
		return nil
	case r.ContentLength > limit:
		return ErrBodyTooLarge
	case r.ContentLength > 0:
		if _, err := io.CopyN(io.Discard, br, r.ContentLength); err != nil {
			return errors.Wrap(err, "discarding body")
		}
	}
	return nil
}
