package offlinecache

import (
	"errors"
	"fmt"
)

// ErrUnknownMessage is returned for a message whose type is not recognized.
var ErrUnknownMessage = errors.New("offlinecache: unknown message type")

// QueueError reports a mutation that failed on the network and could not be
// queued either. The mutation is lost.
type QueueError struct {
	Method   string
	URL      string
	FetchErr error
	StoreErr error
}

func (e *QueueError) Error() string {
	return fmt.Sprintf("queue %s %s: store failed after network failure: store=%v; fetch=%v",
		e.Method, e.URL, e.StoreErr, e.FetchErr)
}

func (e *QueueError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.StoreErr != nil {
		errs = append(errs, e.StoreErr)
	}
	if e.FetchErr != nil {
		errs = append(errs, e.FetchErr)
	}
	return errs
}
