package worker

import (
	"errors"

	"basegraph.app/materializer/internal/queue"
	"basegraph.app/materializer/internal/store"
)

// ErrHandlerPanic wraps a recovered panic.
var ErrHandlerPanic = errors.New("handler panicked")

type Outcome int

const (
	// OutcomeRetry leaves the job claimable again after a backoff.
	OutcomeRetry Outcome = iota + 1
	// OutcomeFail moves the job to the errored state.
	OutcomeFail
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRetry:
		return "retry"
	case OutcomeFail:
		return "fail"
	}
	return "unknown"
}

// Classify decides what happens to a job whose handler returned err.
// Transient upstream failures are retried. Anything else is a handler bug
// and retrying it would only fail again.
func Classify(err error) Outcome {
	switch {
	case errors.Is(err, ErrHandlerPanic), errors.Is(err, queue.ErrInvalidPayload):
		return OutcomeFail
	case store.IsTransient(err):
		return OutcomeRetry
	default:
		return OutcomeFail
	}
}
