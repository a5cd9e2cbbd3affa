package session

import (
	"context"

	"github.com/venturetrail/resourcesync/pkg/model"
)

// StaticProvider is an IdentityProvider with a fixed identity and no
// event stream. The flush command's --owner flag uses it to push as a
// known account without consulting the auth service.
type StaticProvider struct {
	Identity *model.Identity
}

func (p StaticProvider) CurrentIdentity(ctx context.Context) (*model.Identity, error) {
	return p.Identity, nil
}

func (p StaticProvider) Events() <-chan model.AuthEvent { return nil }
