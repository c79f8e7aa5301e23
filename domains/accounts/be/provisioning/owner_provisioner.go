package provisioning

import (
	"context"

	"github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
)

// OwnerFunc adapts a function to service.OwnerBootstrapper, so the tenant-users
// domain can be plugged in without the accounts domain importing it.
type OwnerFunc func(ctx context.Context, a service.Account, owner service.Owner) (service.OwnerResult, error)

func (f OwnerFunc) BootstrapOwner(ctx context.Context, a service.Account, owner service.Owner) (service.OwnerResult, error) {
	return f(ctx, a, owner)
}

var _ service.OwnerBootstrapper = OwnerFunc(nil)
