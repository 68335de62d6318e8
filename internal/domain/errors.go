package domain

import (
	"errors"
	"fmt"
)

// ErrIngestionBusy is returned when a new ingestion run is requested while
// one is already in flight. The trigger is skipped, never queued.
var ErrIngestionBusy = errors.New("ingestion run already in progress")

// ErrNotFound is returned by repositories for missing records.
var ErrNotFound = errors.New("not found")

// DeliveryError classifies a failed call to the social-network API so the
// orchestrator can decide between retrying and failing the post.
type DeliveryError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("delivery %s: %v", e.Op, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// IsRetryableDelivery reports whether err is a delivery failure worth
// retrying. Unclassified errors (e.g. context cancellation) are not.
func IsRetryableDelivery(err error) bool {
	var de *DeliveryError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}
