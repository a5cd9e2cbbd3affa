package resourcesync

import (
	"errors"

	"github.com/venturetrail/resourcesync/pkg/reconcile"
	"github.com/venturetrail/resourcesync/pkg/store"
)

// ErrAuthRequired reports that an operation needs a signed-in
// identity. The caller decides how to react (prompt, redirect); the
// content involved is already mirrored and queued, so nothing is lost.
var ErrAuthRequired = reconcile.ErrAuthRequired

// ErrInvalidContent reports content that is nil or not a structured
// map; such saves are dropped without retry.
var ErrInvalidContent = reconcile.ErrInvalidContent

// ErrMissingStore and ErrMissingIdentity are configuration errors
// returned by New.
var (
	ErrMissingStore    = errors.New("resourcesync: Config.Store is required")
	ErrMissingIdentity = errors.New("resourcesync: Config.Identity is required")
)

// IsAuthRequired reports whether err is (or wraps) the
// authentication-required outcome.
func IsAuthRequired(err error) bool {
	return errors.Is(err, reconcile.ErrAuthRequired)
}

// IsTransientStore reports whether err is a retryable remote store
// failure, as opposed to a contract violation or an auth outcome.
func IsTransientStore(err error) bool {
	return store.IsTransient(err)
}
