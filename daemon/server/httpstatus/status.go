// Package httpstatus maps errors returned while handling a request to the
// status code sent to the client.
package httpstatus

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
	"github.com/moby/fsd/internal/httpwire"
)

// FromError retrieves the status code for err. Errors that are not
// classified map to 500.
func FromError(err error) int {
	if err == nil {
		log.G(context.TODO()).Error("unexpected HTTP error handling: nil error")
		return http.StatusInternalServerError
	}

	var statusCode int

	switch {
	case errors.Is(err, httpwire.ErrRequestTooLarge):
		statusCode = http.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, httpwire.ErrMethodNotAllowed):
		statusCode = http.StatusMethodNotAllowed
	case errors.Is(err, httpwire.ErrVersionNotSupported):
		statusCode = http.StatusHTTPVersionNotSupported
	case errors.Is(err, httpwire.ErrMalformedRequest),
		errors.Is(err, httpwire.ErrBodyTooLarge),
		errdefs.IsInvalidArgument(err):
		statusCode = http.StatusBadRequest
	case errdefs.IsNotFound(err):
		statusCode = http.StatusNotFound
	case errdefs.IsPermissionDenied(err):
		statusCode = http.StatusForbidden
	case errdefs.IsOutOfRange(err):
		statusCode = http.StatusRequestedRangeNotSatisfiable
	case errdefs.IsNotImplemented(err):
		statusCode = http.StatusNotImplemented
	case errdefs.IsUnavailable(err):
		statusCode = http.StatusServiceUnavailable
	default:
		statusCode = http.StatusInternalServerError
		log.G(context.TODO()).WithFields(log.Fields{
			"error":      err,
			"error_type": fmt.Sprintf("%T", err),
		}).Debug("unclassified error, responding with internal server error")
	}

	return statusCode
}
