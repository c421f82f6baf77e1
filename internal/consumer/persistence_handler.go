package consumer

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const createAuditTable = `CREATE TABLE IF NOT EXISTS mutation_audit_log (
    event_id      TEXT PRIMARY KEY,
    event_type    TEXT NOT NULL,
    activity_id   TEXT NOT NULL,
    owner_id      TEXT NOT NULL,
    occurred_at   TIMESTAMPTZ NOT NULL,
    topic         TEXT NOT NULL,
    partition     INT NOT NULL,
    record_offset BIGINT NOT NULL,
    received_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PersistenceHandler writes consumed mutation events into Postgres.
type PersistenceHandler struct {
	pool *pgxpool.Pool
}

// NewPersistenceHandler constructs a handler backed by the provided pool.
func NewPersistenceHandler(pool *pgxpool.Pool) *PersistenceHandler {
	return &PersistenceHandler{pool: pool}
}

// EnsureSchema creates the audit table when it does not exist yet.
func (h *PersistenceHandler) EnsureSchema(ctx context.Context) error {
	if _, err := h.pool.Exec(ctx, createAuditTable); err != nil {
		return fmt.Errorf("create mutation_audit_log: %w", err)
	}
	return nil
}

// Handle appends the event to mutation_audit_log. Redelivered events are ignored.
func (h *PersistenceHandler) Handle(ctx context.Context, msg Message) error {
	_, err := h.pool.Exec(ctx,
		`INSERT INTO mutation_audit_log (event_id, event_type, activity_id, owner_id, occurred_at, topic, partition, record_offset)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
         ON CONFLICT (event_id) DO NOTHING`,
		msg.Event.EventID,
		msg.Event.Type,
		msg.Event.ActivityID,
		msg.Event.OwnerID,
		msg.Event.OccurredAt,
		msg.Topic,
		msg.Partition,
		msg.Offset,
	)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}
