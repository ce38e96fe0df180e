// Package outbox persists domain events in the same transaction as the state
// change that produced them and delivers them asynchronously.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/healthlink/healthlink/internal/platform/db"
	"github.com/healthlink/healthlink/internal/platform/events"
)

// maxAttempts is the number of failed deliveries after which an entry is no
// longer fetched.
const maxAttempts = 10

// claimLease bounds how long a claimed entry stays invisible to other
// replicas.
const claimLease = 5 * time.Minute

// Entry is a stored event awaiting delivery.
type Entry struct {
	ID          uuid.UUID
	Aggregate   string
	AggregateID string
	Type        string
	Payload     json.RawMessage
	Attempts    int
	CreatedAt   time.Time
}

// Store reads and writes the outbox table.
type Store struct {
	pool db.Querier
}

func NewStore(pool db.Querier) *Store {
	if pool == nil {
		panic("outbox: pool required")
	}
	return &Store{pool: pool}
}

func (s *Store) conn(ctx context.Context) db.Querier {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

// Publish inserts evt, joining the caller's transaction when present.
func (s *Store) Publish(ctx context.Context, evt events.Event) error {
	_, err := s.Insert(ctx, evt)
	return err
}

func (s *Store) Insert(ctx context.Context, evt events.Event) (uuid.UUID, error) {
	data, err := json.Marshal(evt.Payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: marshal payload: %w", err)
	}
	id := uuid.New()
	_, err = s.conn(ctx).Exec(ctx, `
		INSERT INTO outbox (id, aggregate, aggregate_id, type, payload)
		VALUES ($1, $2, $3, $4, $5)`,
		id, evt.Aggregate, evt.AggregateID, evt.Type, data)
	if err != nil {
		return uuid.Nil, fmt.Errorf("outbox: insert: %w", err)
	}
	return id, nil
}

// ClaimPending leases up to limit undelivered entries, oldest first. Rows
// locked or leased by another replica are skipped. A lease that is not
// settled by MarkDelivered or MarkFailed runs out after claimLease and the
// entry becomes claimable again.
func (s *Store) ClaimPending(ctx context.Context, limit int32) ([]Entry, error) {
	rows, err := s.conn(ctx).Query(ctx, `
		UPDATE outbox SET claimed_until = NOW() + make_interval(secs => $3)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE delivered_at IS NULL AND attempts < $1
			  AND (claimed_until IS NULL OR claimed_until < NOW())
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED)
		RETURNING id, aggregate, aggregate_id, type, payload, attempts, created_at`,
		maxAttempts, limit, claimLease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox: claim pending: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Aggregate, &e.AggregateID, &e.Type, &payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		e.Payload = append(json.RawMessage(nil), payload...)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING has no defined order.
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].CreatedAt.Before(entries[j].CreatedAt) })
	return entries, nil
}

func (s *Store) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.conn(ctx).Exec(ctx, `
		UPDATE outbox SET delivered_at = NOW()
		WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("outbox: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed records a failed delivery attempt and releases the lease so the
// next drain retries it.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	_, err := s.conn(ctx).Exec(ctx, `
		UPDATE outbox SET attempts = attempts + 1, last_error = $2, claimed_until = NULL
		WHERE id = $1`, id, cause.Error())
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}

// PurgeDelivered removes delivered entries older than before.
func (s *Store) PurgeDelivered(ctx context.Context, before time.Time) (int64, error) {
	ct, err := s.conn(ctx).Exec(ctx, `
		DELETE FROM outbox WHERE delivered_at IS NOT NULL AND delivered_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("outbox: purge delivered: %w", err)
	}
	return ct.RowsAffected(), nil
}
