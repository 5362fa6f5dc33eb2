package connectors

import (
	"fmt"
)

// PublishError - событие не доставлено во внешнюю шину.
type PublishError struct {
	Sink         string
	ConstraintID string
	Version      int64
	Cause        error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("%s: publish %s v%d: %v", e.Sink, e.ConstraintID, e.Version, e.Cause)
}

func (e *PublishError) Unwrap() error { return e.Cause }
