package httpwire

import "errors"

var (
	// ErrMalformedRequest is returned for a request line, header or target
	// that cannot be parsed.
	ErrMalformedRequest = errors.New("malformed request")

	// ErrRequestTooLarge is returned when the request head exceeds the
	// configured maximum header size.
	ErrRequestTooLarge = errors.New("request header fields too large")

	// ErrMethodNotAllowed is returned for a well-formed request using a
	// method other than GET or HEAD. The request is otherwise complete, so
	// the connection may be reused.
	ErrMethodNotAllowed = errors.New("method not allowed")

	// ErrVersionNotSupported is returned for HTTP versions other than 1.0 and 1.1.
	ErrVersionNotSupported = errors.New("http version not supported")

	// ErrBodyTooLarge is returned by DiscardBody when the body is larger
	// than the caller is willing to skip.
	ErrBodyTooLarge = errors.New("request body too large to discard")
)
