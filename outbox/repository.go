package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrDuplicateEvent signals the event id is already stored. Materialization
	// relies on this to stay idempotent across retries.
	ErrDuplicateEvent = errors.New("outbox: duplicate event")
	// ErrEventNotFound is returned when no outbox row exists for the id.
	ErrEventNotFound = errors.New("outbox: event not found")
)

// Repository is the write side of the outbox. Save must only be called inside
// the transaction that also mutates the aggregate the event describes.
type Repository interface {
	Save(ctx context.Context, tx pgx.Tx, event DomainEvent) error
	SelectDispatchable(ctx context.Context, limit int) ([]DomainEvent, error)
	MarkInProcess(ctx context.Context, ids []string) ([]string, error)
	RecordPublicationResult(ctx context.Context, eventID string, pub Publication) error
	CountAllEvents(ctx context.Context, status Status) (int, error)
}

// Queries is the operator-facing read side.
type Queries interface {
	GetEventsToPublish(ctx context.Context) ([]DomainEvent, error)
	GetFailedEvents(ctx context.Context) ([]DomainEvent, error)
}

// PGRepository implements Repository and Queries backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Save appends the event inside the caller's transaction.
func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, event DomainEvent) error {
	pubs, err := json.Marshal(event.Publications)
	if err != nil {
		return fmt.Errorf("outbox: marshal publications: %w", err)
	}
	const insertSQL = `
INSERT INTO outbox_events (id, topic, payload, occurred_at, publications, was_quarantined, status)
VALUES ($1, $2, $3::jsonb, $4, $5::jsonb, $6, $7)
`
	if _, err := tx.Exec(ctx, insertSQL,
		event.ID, event.Topic, event.Payload, event.OccurredAt, pubs, event.WasQuarantined, event.Status,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEvent
		}
		return fmt.Errorf("outbox: insert event: %w", err)
	}
	return nil
}

// SelectDispatchable returns events eligible for a publish attempt, oldest
// first. Quarantined events are never returned; in-process events come back
// only once their claim lease has expired.
func (r *PGRepository) SelectDispatchable(ctx context.Context, limit int) ([]DomainEvent, error) {
	const selectSQL = `
SELECT id, topic, payload, occurred_at, publications, was_quarantined, status, in_process_since
FROM outbox_events
WHERE was_quarantined = false
  AND (status IN ('never-published', 'failed-but-will-retry')
       OR (status = 'in-process' AND in_process_since < $2))
ORDER BY occurred_at
LIMIT $1
`
	rows, err := r.pool.Query(ctx, selectSQL, limit, time.Now().UTC().Add(-InProcessLease))
	if err != nil {
		return nil, fmt.Errorf("outbox: select dispatchable: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// MarkInProcess claims the given events for the current dispatch cycle and
// returns the ids actually claimed. An event already claimed by a concurrent
// cycle is skipped, so no two cycles deliver the same event; a claim whose
// lease expired is taken over.
func (r *PGRepository) MarkInProcess(ctx context.Context, ids []string) ([]string, error) {
	const claimSQL = `
UPDATE outbox_events
SET status = 'in-process', in_process_since = $2
WHERE id IN (
    SELECT id FROM outbox_events
    WHERE id = ANY($1::uuid[])
      AND was_quarantined = false
      AND (status IN ('never-published', 'failed-but-will-retry')
           OR (status = 'in-process' AND in_process_since < $3))
    FOR UPDATE SKIP LOCKED
)
RETURNING id
`
	now := time.Now().UTC()
	rows, err := r.pool.Query(ctx, claimSQL, ids, now, now.Add(-InProcessLease))
	if err != nil {
		return nil, fmt.Errorf("outbox: mark in process: %w", err)
	}
	defer rows.Close()

	var claimed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("outbox: scan claimed id: %w", err)
		}
		claimed = append(claimed, id)
	}
	return claimed, rows.Err()
}

// RecordPublicationResult appends the publication to the event ledger and
// moves its status: published on success, retry on failure, quarantined once
// the attempt limit is reached.
func (r *PGRepository) RecordPublicationResult(ctx context.Context, eventID string, pub Publication) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("outbox: begin record result: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	if err := tx.QueryRow(ctx, `SELECT publications FROM outbox_events WHERE id=$1 FOR UPDATE`, eventID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrEventNotFound
		}
		return fmt.Errorf("outbox: load publications: %w", err)
	}

	var pubs []Publication
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &pubs); err != nil {
			return fmt.Errorf("outbox: decode publications: %w", err)
		}
	}
	pubs = append(pubs, pub)

	status, quarantined := nextState(pubs, pub)

	body, err := json.Marshal(pubs)
	if err != nil {
		return fmt.Errorf("outbox: marshal publications: %w", err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE outbox_events
SET publications = $1::jsonb, status = $2, was_quarantined = $3, in_process_since = NULL
WHERE id = $4
`, body, status, quarantined, eventID); err != nil {
		return fmt.Errorf("outbox: update publication result: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("outbox: commit publication result: %w", err)
	}
	return nil
}

// nextState derives the post-attempt status from the full ledger.
func nextState(pubs []Publication, last Publication) (Status, bool) {
	if !last.Failed() {
		return StatusPublished, false
	}
	failed := 0
	for _, p := range pubs {
		if p.Failed() {
			failed++
		}
	}
	if failed >= MaxPublicationAttempts {
		return StatusFailedButWillRetry, true
	}
	return StatusFailedButWillRetry, false
}

func (r *PGRepository) CountAllEvents(ctx context.Context, status Status) (int, error) {
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE status=$1`, status).Scan(&count); err != nil {
		return 0, fmt.Errorf("outbox: count events: %w", err)
	}
	return count, nil
}

// GetEventsToPublish returns the same set SelectDispatchable draws from,
// without a limit.
func (r *PGRepository) GetEventsToPublish(ctx context.Context) ([]DomainEvent, error) {
	const selectSQL = `
SELECT id, topic, payload, occurred_at, publications, was_quarantined, status, in_process_since
FROM outbox_events
WHERE was_quarantined = false
  AND (status IN ('never-published', 'failed-but-will-retry')
       OR (status = 'in-process' AND in_process_since < $1))
ORDER BY occurred_at
`
	rows, err := r.pool.Query(ctx, selectSQL, time.Now().UTC().Add(-InProcessLease))
	if err != nil {
		return nil, fmt.Errorf("outbox: events to publish: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// GetFailedEvents returns quarantined events, events whose latest attempt
// failed, and in-process claims whose lease expired, for operator inspection
// and manual replay.
func (r *PGRepository) GetFailedEvents(ctx context.Context) ([]DomainEvent, error) {
	const selectSQL = `
SELECT id, topic, payload, occurred_at, publications, was_quarantined, status, in_process_since
FROM outbox_events
WHERE was_quarantined = true
   OR status = 'failed-but-will-retry'
   OR (status = 'in-process' AND in_process_since < $1)
ORDER BY occurred_at
`
	rows, err := r.pool.Query(ctx, selectSQL, time.Now().UTC().Add(-InProcessLease))
	if err != nil {
		return nil, fmt.Errorf("outbox: failed events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows pgx.Rows) ([]DomainEvent, error) {
	var events []DomainEvent
	for rows.Next() {
		var (
			ev   DomainEvent
			pubs []byte
		)
		if err := rows.Scan(&ev.ID, &ev.Topic, &ev.Payload, &ev.OccurredAt, &pubs, &ev.WasQuarantined, &ev.Status, &ev.InProcessSince); err != nil {
			return nil, fmt.Errorf("outbox: scan event: %w", err)
		}
		if len(pubs) > 0 {
			if err := json.Unmarshal(pubs, &ev.Publications); err != nil {
				return nil, fmt.Errorf("outbox: decode publications of %s: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
