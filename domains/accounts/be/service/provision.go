package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
)

// ErrProvisioningNotConfigured is returned when the service was built without provisioners.
var ErrProvisioningNotConfigured = errors.New("account provisioning is not configured")

// ProvisionInput optionally names the owner to create in the new schema.
// Re-runs of a partially provisioned account may omit it.
type ProvisionInput struct {
	Owner *Owner
}

type ProvisionResult struct {
	Account           Account
	AppliedMigrations []string
	Owner             *OwnerResult
}

// Provision creates the tenant schema and storage prefix, bootstraps the owner
// and moves a PROVISIONING account to ACTIVE, or FREE_TRIAL when a trial end is
// set. Every step is idempotent so a failed run can simply be repeated.
func (s *Service) Provision(ctx context.Context, id uuid.UUID, input ProvisionInput) (ProvisionResult, error) {
	if s.prov.DB == nil || s.prov.Storage == nil {
		return ProvisionResult{}, ErrProvisioningNotConfigured
	}

	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return ProvisionResult{}, err
	}
	if a.IsDeleted || a.Status == StatusCancelled {
		return ProvisionResult{}, apperr.New(apperr.InvalidStatusTransition, "cancelled accounts cannot be provisioned")
	}

	logger := s.loggerFor(ctx).With(
		zap.String("account_id", a.ID.String()),
		zap.String("schema", a.SchemaName),
	)
	status := ProvisioningStatus{DBReady: a.Provisioning.DBReady, StorageReady: a.Provisioning.StorageReady}
	var result ProvisionResult

	dbRes, err := s.prov.DB.Ensure(ctx, a.SchemaName)
	if err != nil {
		return ProvisionResult{}, s.failProvisioning(ctx, logger, a.ID, status, "database", err)
	}
	status.DBReady = dbRes.Ready
	result.AppliedMigrations = dbRes.Applied

	storageRes, err := s.prov.Storage.Ensure(ctx, a.BasePrefix)
	if err != nil {
		return ProvisionResult{}, s.failProvisioning(ctx, logger, a.ID, status, "storage", err)
	}
	status.StorageReady = storageRes.Ready

	if input.Owner != nil {
		if s.prov.Owner == nil {
			return ProvisionResult{}, ErrProvisioningNotConfigured
		}
		owner, err := s.prov.Owner.BootstrapOwner(ctx, a, *input.Owner)
		if err != nil {
			return ProvisionResult{}, s.failProvisioning(ctx, logger, a.ID, status, "owner", err)
		}
		result.Owner = &owner
	}

	a, err = s.repo.RecordProvisioning(ctx, a.ID, status)
	if err != nil {
		return ProvisionResult{}, fmt.Errorf("record provisioning: %w", err)
	}
	logger.Info("account provisioned",
		zap.Bool("db_ready", status.DBReady),
		zap.Bool("storage_ready", status.StorageReady),
		zap.Strings("applied_migrations", result.AppliedMigrations),
	)

	if a.Status == StatusProvisioning && status.DBReady && status.StorageReady {
		target := StatusActive
		if a.TrialEndsAt != nil && a.TrialEndsAt.After(s.now()) {
			target = StatusFreeTrial
		}
		change, err := s.ChangeStatus(ctx, a.ID, ChangeStatusInput{Status: target})
		if err != nil {
			return ProvisionResult{}, err
		}
		a = change.Account
	}

	result.Account = a
	return result, nil
}

func (s *Service) failProvisioning(ctx context.Context, logger *zap.Logger, id uuid.UUID, status ProvisioningStatus, step string, cause error) error {
	msg := fmt.Sprintf("%s: %v", step, cause)
	status.LastError = &msg
	if _, err := s.repo.RecordProvisioning(ctx, id, status); err != nil {
		logger.Error("record provisioning failure", zap.Error(err))
	}
	logger.Error("account provisioning failed", zap.String("step", step), zap.Error(cause))
	return fmt.Errorf("provision %s: %w", step, cause)
}

// ProvisionStatus performs a live check and persists the result when it
// differs from what is recorded.
func (s *Service) ProvisionStatus(ctx context.Context, id uuid.UUID) (ProvisioningStatus, error) {
	if s.prov.DB == nil || s.prov.Storage == nil {
		return ProvisioningStatus{}, ErrProvisioningNotConfigured
	}
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return ProvisioningStatus{}, err
	}

	dbRes, err := s.prov.DB.Check(ctx, a.SchemaName)
	if err != nil {
		return ProvisioningStatus{}, fmt.Errorf("check database: %w", err)
	}
	storageRes, err := s.prov.Storage.Check(ctx, a.BasePrefix)
	if err != nil {
		return ProvisioningStatus{}, fmt.Errorf("check storage: %w", err)
	}

	current := a.Provisioning
	if current.DBReady == dbRes.Ready && current.StorageReady == storageRes.Ready {
		return current, nil
	}
	current.DBReady = dbRes.Ready
	current.StorageReady = storageRes.Ready
	updated, err := s.repo.RecordProvisioning(ctx, a.ID, current)
	if err != nil {
		return ProvisioningStatus{}, fmt.Errorf("record provisioning: %w", err)
	}
	return updated.Provisioning, nil
}
