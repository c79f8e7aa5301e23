package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const AuditEventsTable = "audit_events"

// AuditEvent records a tenant-side operation in the control plane. Committed
// tells whether the tenant transaction it describes actually committed.
type AuditEvent struct {
	EventID    uuid.UUID
	AccountID  *uuid.UUID
	Actor      string
	Action     string
	Target     *string
	Committed  bool
	Payload    map[string]any
	RequestID  *string
	OccurredAt time.Time
}

type AuditStore struct {
	db *ControlPlaneDB
}

func NewAuditStore(db *ControlPlaneDB) (*AuditStore, error) {
	if db == nil {
		return nil, errors.New("control-plane db is required")
	}
	return &AuditStore{db: db}, nil
}

func (s *AuditStore) Append(ctx context.Context, ev AuditEvent) error {
	if ev.EventID == uuid.Nil {
		ev.EventID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}

	query := fmt.Sprintf(`
        INSERT INTO %s (event_id, account_id, actor, action, target, committed, payload, request_id, occurred_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`, AuditEventsTable)

	return s.db.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctx, query, ev.EventID, ev.AccountID, ev.Actor, ev.Action, ev.Target,
			ev.Committed, payload, ev.RequestID, ev.OccurredAt)
		return err
	})
}

// ListByAccount returns the newest events of an account first.
func (s *AuditStore) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`
        SELECT event_id, account_id, actor, action, target, committed, payload, request_id, occurred_at
        FROM %s WHERE account_id = $1
        ORDER BY occurred_at DESC
        LIMIT %d`, AuditEventsTable, limit)

	var events []AuditEvent
	err := s.db.WithReadTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, accountID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				ev  AuditEvent
				raw []byte
			)
			if err := rows.Scan(&ev.EventID, &ev.AccountID, &ev.Actor, &ev.Action, &ev.Target,
				&ev.Committed, &raw, &ev.RequestID, &ev.OccurredAt); err != nil {
				return err
			}
			if err := json.Unmarshal(raw, &ev.Payload); err != nil {
				return fmt.Errorf("decode audit payload: %w", err)
			}
			events = append(events, ev)
		}
		return rows.Err()
	})
	return events, err
}
