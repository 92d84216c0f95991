package status

import (
	"fmt"

	"netkit/application/http"

	"github.com/pkg/errors"
)

// Error pairs a failure with the status a server answers it with.
type Error struct {
	cause  error
	Status Status
}

func NewError(err error, status Status) Error {
	return Error{cause: err, Status: status}
}

// FromError picks the response status for err.
// Codec errors carry their own status, anything else is an internal error.
func FromError(err error) Error {
	var statusErr Error
	if errors.As(err, &statusErr) {
		return statusErr
	}

	var httpErr *http.Error
	if errors.As(err, &httpErr) {
		s, _ := FromCode(httpErr.Status())
		return NewError(err, s)
	}
	return NewError(err, InternalServerError)
}

func (e Error) Error() string {
	cause := ""
	if e.cause != nil {
		cause = e.cause.Error()
	}

	return fmt.Sprintf(
		"%d %s: %q", e.Status.Code, e.Status.ReasonPhrase, cause,
	)
}

func (e Error) Cause() error  { return e.cause }
func (e Error) Unwrap() error { return e.cause }
