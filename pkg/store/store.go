// Package store defines the remote record collection this subsystem
// persists into. Implementations are external collaborators; the
// package carries the interface, the filter language the resolver
// needs, and the transient-error wrapper the retry policy keys on.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/venturetrail/resourcesync/pkg/content"
	"github.com/venturetrail/resourcesync/pkg/model"
)

// Filter selects records by a conjunction of equality predicates plus
// "is null" tests for optional columns. This is the minimum the
// resolver needs: equality on owner/step/kind/section key, and a null
// test on the optional sub-step.
type Filter struct {
	Eq     map[string]string
	IsNull []string
}

// RemoteStore is the persistence boundary. All calls are blocking and
// honor ctx; errors from the service or the network should be wrapped
// in *TransientError so the queue retries them.
type RemoteStore interface {
	// Select returns every record matching the filter. No match is
	// (nil, nil), not an error.
	Select(ctx context.Context, f Filter) ([]model.Record, error)

	// Insert creates the record and returns it with its generated ID
	// and timestamps populated.
	Insert(ctx context.Context, rec model.Record) (model.Record, error)

	// UpdateByID replaces the content of the record with the given ID
	// and returns the updated row.
	UpdateByID(ctx context.Context, id string, contentData *content.Map, updatedAt time.Time) (model.Record, error)
}

// TransientError marks a remote failure as retryable: network errors,
// 5xx responses, timeouts. Anything not wrapped in it is treated as a
// contract failure and not retried.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("store: transient failure during %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a *TransientError, or returns nil for nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
