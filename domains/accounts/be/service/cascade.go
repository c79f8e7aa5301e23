package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-tenancy/platform/go/apperr"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/executor"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/logging"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// notReady is returned by the cascade body's readiness fallback. Bulk updates
// never report a negative count.
const notReady int64 = -1

// ChangeStatusInput is a requested status change.
type ChangeStatusInput struct {
	Status Status
	Reason *string
}

// CascadeResult reports what the side effect did inside the tenant schema.
type CascadeResult struct {
	Action             SideEffect
	TenantUsersUpdated bool
	TenantUsersCount   int64
}

// StatusChangeResult is the outcome of ChangeStatus. It is derived and never stored.
type StatusChangeResult struct {
	Account        Account
	PreviousStatus Status
	EffectiveAt    time.Time
	SideEffects    CascadeResult
}

// ChangeStatus validates and commits the status change in the control plane,
// then applies its cascade to the tenant schema in a separate transaction. A
// failed cascade is logged and stays pending for Reconcile; the committed
// status is never rolled back.
func (s *Service) ChangeStatus(ctx context.Context, id uuid.UUID, input ChangeStatusInput) (StatusChangeResult, error) {
	if _, err := ParseStatus(string(input.Status)); err != nil {
		return StatusChangeResult{}, err
	}

	var (
		previous Status
		updated  Account
		effect   SideEffect
	)
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanTransition(current.Status, input.Status) {
			return apperr.New(apperr.InvalidStatusTransition,
				fmt.Sprintf("account status cannot change from %s to %s", current.Status, input.Status))
		}

		previous = current.Status
		effect = ComputeSideEffect(current.Status, input.Status)
		updated, err = s.repo.UpdateStatus(ctx, StatusUpdate{
			AccountID:  id,
			Status:     input.Status,
			Reason:     input.Reason,
			Pending:    effect,
			SoftDelete: input.Status == StatusCancelled,
		})
		if err != nil {
			return fmt.Errorf("update account status: %w", err)
		}

		persistence.AfterCommit(ctx, func(ctx context.Context) error {
			return s.cache.Invalidate(ctx, id)
		})
		return nil
	})
	if err != nil {
		return StatusChangeResult{}, err
	}

	s.loggerFor(ctx).Info("account status changed",
		zap.String("account_id", id.String()),
		zap.String("previous_status", string(previous)),
		zap.String("status", string(updated.Status)),
		zap.String("action", string(effect)),
	)

	result := StatusChangeResult{
		Account:        updated,
		PreviousStatus: previous,
		EffectiveAt:    updated.StatusChangedAt,
		SideEffects:    CascadeResult{Action: effect},
	}

	// Errors are logged by ApplyCascade and left for Reconcile.
	if cascade, err := s.ApplyCascade(ctx, updated, effect); err == nil {
		result.SideEffects = cascade
		if effect != SideEffectNone {
			result.Account.PendingCascade = ""
		}
	}
	return result, nil
}

// ApplyCascade runs effect inside the account's tenant schema and clears the
// pending marker. A schema that is not provisioned yet has no users, so the
// cascade completes with nothing updated. All effects are idempotent.
func (s *Service) ApplyCascade(ctx context.Context, a Account, effect SideEffect) (CascadeResult, error) {
	result := CascadeResult{Action: effect}
	if effect == SideEffectNone || effect == "" {
		result.Action = SideEffectNone
		return result, nil
	}

	logger := s.loggerFor(ctx).With(
		zap.String("account_id", a.ID.String()),
		zap.String("schema", a.SchemaName),
		zap.String("action", string(effect)),
	)

	count, err := executor.RunIfReady(ctx, s.tenants, a.SchemaName, persistence.TenantUsersTable,
		func(ctx context.Context) (int64, error) {
			return s.applyToUsers(ctx, effect)
		}, notReady)
	if err != nil {
		logger.Error("account cascade failed, left pending", zap.Error(err))
		return result, fmt.Errorf("apply %s to %s: %w", effect, a.SchemaName, err)
	}

	if effect == SideEffectCancelAccount {
		err := s.public.Run(ctx, func(ctx context.Context) error {
			_, err := s.directory.MarkAccountDeleted(ctx, a.ID)
			return err
		})
		if err != nil {
			logger.Error("login directory cleanup failed, left pending", zap.Error(err))
			return result, fmt.Errorf("mark directory entries deleted: %w", err)
		}
	}

	if _, err := s.repo.MarkCascadeApplied(ctx, a.ID, effect); err != nil {
		logger.Error("cascade applied but pending marker not cleared", zap.Error(err))
		return result, fmt.Errorf("mark cascade applied: %w", err)
	}

	if count == notReady {
		logger.Info("account cascade skipped, tenant schema not ready")
		return result, nil
	}
	result.TenantUsersUpdated = true
	result.TenantUsersCount = count
	logger.Info("account cascade applied", zap.Int64("tenant_users_count", count))
	return result, nil
}

func (s *Service) applyToUsers(ctx context.Context, effect SideEffect) (int64, error) {
	switch effect {
	case SideEffectSuspendByAccount:
		return s.users.SuspendAllByAccount(ctx)
	case SideEffectUnsuspendByAccount:
		return s.users.UnsuspendAllByAccount(ctx)
	case SideEffectCancelAccount:
		return s.users.SoftDeleteAll(ctx)
	default:
		return 0, fmt.Errorf("unknown cascade action %q", effect)
	}
}

// ReconcileResult summarises one reconciliation sweep.
type ReconcileResult struct {
	Pending int
	Applied int
	Failed  int
}

// Reconcile re-applies every cascade still pending after its status change,
// oldest first. Failures are reported but do not stop the sweep.
func (s *Service) Reconcile(ctx context.Context, limit int) (ReconcileResult, error) {
	pending, err := s.repo.ListPendingCascades(ctx, limit)
	if err != nil {
		return ReconcileResult{}, fmt.Errorf("list pending cascades: %w", err)
	}

	result := ReconcileResult{Pending: len(pending)}
	var errs []error
	for _, a := range pending {
		if _, err := s.ApplyCascade(ctx, a, a.PendingCascade); err != nil {
			result.Failed++
			errs = append(errs, fmt.Errorf("account %s: %w", a.ID, err))
			continue
		}
		result.Applied++
	}
	return result, errors.Join(errs...)
}

func (s *Service) loggerFor(ctx context.Context) *zap.Logger {
	if logger, ok := logging.FromContext(ctx); ok {
		return logger
	}
	return s.logger
}
