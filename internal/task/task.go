// Package task runs scheduled maintenance work: the reconciliation scan that
// re-enqueues missing resources and the batched cleanup tasks that mutate
// upstream rows.
package task

import (
	"context"
	"errors"
	"fmt"

	"basegraph.app/materializer/internal/store"
)

type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// ErrAlreadyRunning is returned for a run requested while the same task is
// still running.
var ErrAlreadyRunning = errors.New("task is already running")

// ConfigurationError is fatal for the task it names and for no other.
type ConfigurationError struct {
	Task string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("task %s: configuration: %v", e.Task, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// TxRunner runs fn in one transaction with stores bound to it.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(stores store.TxStores) error) error
}
