package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotificationNotFound is returned when no row matches the {id, kind} key.
var ErrNotificationNotFound = errors.New("notification: not found")

// EmailFilters narrows GetEmailsByFilters.
type EmailFilters struct {
	ConventionID string
	AgencyID     string
	CreatedAfter time.Time
}

// Repository handles notification data access. Save and SaveBatch run inside
// the caller's transaction so rows and their joining event commit together.
type Repository interface {
	Save(ctx context.Context, tx pgx.Tx, n Notification) error
	SaveBatch(ctx context.Context, tx pgx.Tx, batch []Notification) error
	GetByIDAndKind(ctx context.Context, id string, kind Kind) (Notification, error)
	GetEmailsByFilters(ctx context.Context, filters EmailFilters) ([]string, error)
	MarkDelivery(ctx context.Context, id string, kind Kind, state DeliveryState) error
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Save(ctx context.Context, tx pgx.Tx, n Notification) error {
	content, followed, state, err := encodeColumns(n)
	if err != nil {
		return err
	}
	const insertSQL = `
INSERT INTO notifications (id, kind, content, followed_ids, created_at, state)
VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6::jsonb)
`
	if _, err := tx.Exec(ctx, insertSQL, n.ID, n.Kind, content, followed, n.CreatedAt, state); err != nil {
		return fmt.Errorf("notification: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) SaveBatch(ctx context.Context, tx pgx.Tx, batch []Notification) error {
	for _, n := range batch {
		if err := r.Save(ctx, tx, n); err != nil {
			return err
		}
	}
	return nil
}

func (r *PGRepository) GetByIDAndKind(ctx context.Context, id string, kind Kind) (Notification, error) {
	const selectSQL = `
SELECT id, kind, content, followed_ids, created_at, state
FROM notifications
WHERE id=$1 AND kind=$2
`
	var (
		n        Notification
		content  []byte
		followed []byte
		state    []byte
	)
	err := r.pool.QueryRow(ctx, selectSQL, id, kind).Scan(
		&n.ID, &n.Kind, &content, &followed, &n.CreatedAt, &state,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Notification{}, ErrNotificationNotFound
		}
		return Notification{}, fmt.Errorf("notification: get by id and kind: %w", err)
	}
	if err := json.Unmarshal(content, &n.Content); err != nil {
		return Notification{}, fmt.Errorf("notification: decode content: %w", err)
	}
	if len(followed) > 0 {
		if err := json.Unmarshal(followed, &n.FollowedIDs); err != nil {
			return Notification{}, fmt.Errorf("notification: decode followed ids: %w", err)
		}
	}
	if len(state) > 0 {
		var ds DeliveryState
		if err := json.Unmarshal(state, &ds); err != nil {
			return Notification{}, fmt.Errorf("notification: decode state: %w", err)
		}
		n.State = &ds
	}
	return n, nil
}

// GetEmailsByFilters returns the recipient addresses of stored email
// notifications matching every provided filter.
func (r *PGRepository) GetEmailsByFilters(ctx context.Context, filters EmailFilters) ([]string, error) {
	const selectSQL = `
SELECT DISTINCT jsonb_array_elements_text(content->'recipients') AS email
FROM notifications
WHERE kind = 'email'
  AND ($1 = '' OR followed_ids->>'conventionId' = $1)
  AND ($2 = '' OR followed_ids->>'agencyId' = $2)
  AND ($3::timestamptz IS NULL OR created_at > $3)
ORDER BY email
`
	var createdAfter *time.Time
	if !filters.CreatedAfter.IsZero() {
		createdAfter = &filters.CreatedAfter
	}
	rows, err := r.pool.Query(ctx, selectSQL, filters.ConventionID, filters.AgencyID, createdAfter)
	if err != nil {
		return nil, fmt.Errorf("notification: emails by filters: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("notification: scan email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// MarkDelivery attaches the provider outcome to an existing notification.
func (r *PGRepository) MarkDelivery(ctx context.Context, id string, kind Kind, state DeliveryState) error {
	body, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("notification: marshal state: %w", err)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE notifications SET state=$1::jsonb WHERE id=$2 AND kind=$3`,
		body, id, kind,
	)
	if err != nil {
		return fmt.Errorf("notification: mark delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func encodeColumns(n Notification) (content, followed, state []byte, err error) {
	if content, err = json.Marshal(n.Content); err != nil {
		return nil, nil, nil, fmt.Errorf("notification: marshal content: %w", err)
	}
	if followed, err = json.Marshal(n.FollowedIDs); err != nil {
		return nil, nil, nil, fmt.Errorf("notification: marshal followed ids: %w", err)
	}
	if n.State != nil {
		if state, err = json.Marshal(n.State); err != nil {
			return nil, nil, nil, fmt.Errorf("notification: marshal state: %w", err)
		}
	}
	return content, followed, state, nil
}
