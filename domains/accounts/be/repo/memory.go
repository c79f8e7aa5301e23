package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zenGate-Global/palmyra-tenancy/domains/accounts/be/service"
	"github.com/zenGate-Global/palmyra-tenancy/platform/go/persistence"
)

// MemoryRepository is a simple in-memory implementation suitable for tests and early development.
type MemoryRepository struct {
	mu       sync.RWMutex
	byID     map[uuid.UUID]service.Account
	bySlug   map[string]uuid.UUID
	bySchema map[string]uuid.UUID
	now      func() time.Time
}

// NewMemoryRepository constructs a MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:     make(map[uuid.UUID]service.Account),
		bySlug:   make(map[string]uuid.UUID),
		bySchema: make(map[string]uuid.UUID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (r *MemoryRepository) Create(_ context.Context, a service.Account) (service.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.bySlug[a.Slug]; exists {
		return service.Account{}, service.ErrConflict
	}
	if _, exists := r.bySchema[a.SchemaName]; exists {
		return service.Account{}, service.ErrConflict
	}

	now := r.now()
	a.Status = service.StatusProvisioning
	a.StatusChangedAt = now
	a.CreatedAt = now
	a.UpdatedAt = now
	r.byID[a.ID] = a
	r.bySlug[a.Slug] = a.ID
	r.bySchema[a.SchemaName] = a.ID
	return a, nil
}

func (r *MemoryRepository) Get(_ context.Context, id uuid.UUID) (service.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return service.Account{}, service.ErrNotFound
	}
	return a, nil
}

// GetForUpdate is Get; MemoryTx serializes transactions instead of row locks.
func (r *MemoryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (service.Account, error) {
	return r.Get(ctx, id)
}

func (r *MemoryRepository) GetBySlug(_ context.Context, slug string) (service.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.bySlug[slug]
	if !ok {
		return service.Account{}, service.ErrNotFound
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) List(_ context.Context, opts service.ListOptions) (service.ListResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	items := make([]service.Account, 0, len(r.byID))
	for _, a := range r.byID {
		if a.IsDeleted && !opts.IncludeDeleted {
			continue
		}
		if opts.Status != nil && a.Status != *opts.Status {
			continue
		}
		items = append(items, a)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })

	page, pageSize := normalizePage(opts.Page, opts.PageSize)
	start := (page - 1) * pageSize
	end := start + pageSize
	if start > len(items) {
		start = len(items)
	}
	if end > len(items) {
		end = len(items)
	}

	return service.ListResult{
		Accounts:   items[start:end],
		Page:       page,
		PageSize:   pageSize,
		TotalItems: len(items),
		TotalPages: (len(items) + pageSize - 1) / pageSize,
	}, nil
}

func (r *MemoryRepository) ListByIDs(_ context.Context, ids []uuid.UUID) ([]service.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []service.Account
	for _, id := range ids {
		if a, ok := r.byID[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) UpdateStatus(_ context.Context, upd service.StatusUpdate) (service.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[upd.AccountID]
	if !ok {
		return service.Account{}, service.ErrNotFound
	}
	now := r.now()
	a.Status = upd.Status
	a.StatusReason = upd.Reason
	a.StatusChangedAt = now
	a.UpdatedAt = now
	if upd.Pending != "" && upd.Pending != service.SideEffectNone {
		a.PendingCascade = upd.Pending
	}
	if upd.SoftDelete && !a.IsDeleted {
		a.IsDeleted = true
		a.DeletedAt = &now
	}
	r.byID[a.ID] = a
	return a, nil
}

func (r *MemoryRepository) MarkCascadeApplied(_ context.Context, id uuid.UUID, action service.SideEffect) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok || a.PendingCascade != action {
		return false, nil
	}
	now := r.now()
	a.PendingCascade = ""
	a.CascadeAppliedAt = &now
	a.UpdatedAt = now
	r.byID[id] = a
	return true, nil
}

func (r *MemoryRepository) ListPendingCascades(_ context.Context, limit int) ([]service.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []service.Account
	for _, a := range r.byID {
		if a.PendingCascade != "" {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StatusChangedAt.Before(out[j].StatusChangedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) RecordProvisioning(_ context.Context, id uuid.UUID, status service.ProvisioningStatus) (service.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return service.Account{}, service.ErrNotFound
	}
	now := r.now()
	status.LastProvisionedAt = &now
	a.Provisioning = status
	a.UpdatedAt = now
	r.byID[id] = a
	return a, nil
}

// MemoryTx serializes transactions over a MemoryRepository. Deferred
// callbacks registered inside fn run once it returns, as with ControlPlaneTx.
type MemoryTx struct {
	mu sync.Mutex
}

func (t *MemoryTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return persistence.InMemoryUnitOfWork(ctx, persistence.RuntimeControlPlane, fn)
}

// Ensure interface compliance.
var (
	_ service.Repository = (*MemoryRepository)(nil)
	_ service.TxRunner   = (*MemoryTx)(nil)
)
