package workers

import (
	"fmt"

	"github.com/APTrust/relay/constants"
)

// ServiceError wraps an error from an external service with its
// kind, so callers can tell an expired credential (needs interactive
// re-login, leave the pipeline alone) from a transient outage (just
// wait for the next cycle) without string matching.
type ServiceError struct {
	Kind string
	Err  error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func NewServiceError(kind string, format string, a ...interface{}) *ServiceError {
	return &ServiceError{
		Kind: kind,
		Err:  fmt.Errorf(format, a...),
	}
}

// ErrorKind returns the classification of err, or an empty string
// for plain errors.
func ErrorKind(err error) string {
	if serviceErr, ok := err.(*ServiceError); ok {
		return serviceErr.Kind
	}
	return ""
}

// IsAuthExpired returns true if err means a credential cannot be
// used or refreshed without interactive re-login.
func IsAuthExpired(err error) bool {
	return ErrorKind(err) == constants.ErrAuthExpired
}

// IsTransient returns true if err is a retryable service problem
// that should never be recorded as a pipeline failure.
func IsTransient(err error) bool {
	return ErrorKind(err) == constants.ErrTransient
}
