package resourcesync

import "github.com/venturetrail/resourcesync/pkg/model"

// Aliases so callers of the facade do not need to import pkg/model for
// everyday use.
type (
	Scope      = model.Scope
	Kind       = model.Kind
	Record     = model.Record
	Identity   = model.Identity
	SaveStatus = model.SaveStatus
)

const (
	StatusLoading = model.StatusLoading
	StatusPending = model.StatusPending
	StatusSaving  = model.StatusSaving
	StatusSuccess = model.StatusSuccess
	StatusError   = model.StatusError
)
