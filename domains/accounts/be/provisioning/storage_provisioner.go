package provisioning

import (
	"context"

	"github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/storage"
)

// StorageProvisioner prepares the account prefix on the configured backend
// (GCS bucket or local directory).
type StorageProvisioner struct {
	prefixes storage.PrefixProvisioner
}

func NewStorageProvisioner(prefixes storage.PrefixProvisioner) *StorageProvisioner {
	if prefixes == nil {
		panic("storage provisioner requires prefix provisioner")
	}
	return &StorageProvisioner{prefixes: prefixes}
}

func (s *StorageProvisioner) Ensure(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	if err := s.prefixes.Ensure(ctx, prefix); err != nil {
		return service.StorageProvisionResult{}, err
	}
	return service.StorageProvisionResult{Ready: true}, nil
}

func (s *StorageProvisioner) Check(ctx context.Context, prefix string) (service.StorageProvisionResult, error) {
	ready, err := s.prefixes.Check(ctx, prefix)
	if err != nil {
		return service.StorageProvisionResult{}, err
	}
	return service.StorageProvisionResult{Ready: ready}, nil
}

var _ service.StorageProvisioner = (*StorageProvisioner)(nil)
