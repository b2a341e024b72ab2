package agency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrAgencyNotFound signals that no agency exists for the identifier.
var ErrAgencyNotFound = errors.New("agency: not found")

// MissingAgenciesError names every id a GetByIDs call could not resolve.
type MissingAgenciesError struct {
	IDs []string
}

func (e MissingAgenciesError) Error() string {
	return fmt.Sprintf("agency: agencies not found: %s", strings.Join(e.IDs, ", "))
}

// Repository handles agency data access.
type Repository interface {
	GetByID(ctx context.Context, id string) (Agency, error)
	GetByIDs(ctx context.Context, ids []string) ([]Agency, error)
	GetByRefersToAgencyID(ctx context.Context, agencyID string) ([]Agency, error)
	UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, justification string) error
	FindInactiveSince(ctx context.Context, cutoff time.Time) ([]Agency, error)
}

// PGRepository implements Repository backed by PostgreSQL. The rights map is
// stored as jsonb.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const agencyColumns = `id, name, status, status_justification, refers_to_agency_id, users_rights, created_at, updated_at`

func (r *PGRepository) GetByID(ctx context.Context, id string) (Agency, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE id=$1`, id)
	ag, err := scanAgency(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agency{}, ErrAgencyNotFound
		}
		return Agency{}, fmt.Errorf("agency: get by id: %w", err)
	}
	return ag, nil
}

// GetByIDs resolves every id or fails naming the missing ones.
func (r *PGRepository) GetByIDs(ctx context.Context, ids []string) ([]Agency, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("agency: get by ids: %w", err)
	}
	defer rows.Close()

	found := map[string]bool{}
	var agencies []Agency
	for rows.Next() {
		ag, err := scanAgency(rows)
		if err != nil {
			return nil, fmt.Errorf("agency: scan: %w", err)
		}
		found[ag.ID] = true
		agencies = append(agencies, ag)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, MissingAgenciesError{IDs: missing}
	}
	return agencies, nil
}

func (r *PGRepository) GetByRefersToAgencyID(ctx context.Context, agencyID string) ([]Agency, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+agencyColumns+` FROM agencies WHERE refers_to_agency_id=$1`, agencyID)
	if err != nil {
		return nil, fmt.Errorf("agency: get by refers-to: %w", err)
	}
	defer rows.Close()

	var agencies []Agency
	for rows.Next() {
		ag, err := scanAgency(rows)
		if err != nil {
			return nil, fmt.Errorf("agency: scan: %w", err)
		}
		agencies = append(agencies, ag)
	}
	return agencies, rows.Err()
}

// UpdateStatus mutates status and justification inside the caller's
// transaction so the closure sweep commits the mutation with its event.
func (r *PGRepository) UpdateStatus(ctx context.Context, tx pgx.Tx, id string, status Status, justification string) error {
	tag, err := tx.Exec(ctx, `
UPDATE agencies
SET status=$1, status_justification=$2, updated_at=now()
WHERE id=$3
`, status, justification, id)
	if err != nil {
		return fmt.Errorf("agency: update status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAgencyNotFound
	}
	return nil
}

// FindInactiveSince returns active agencies with no convention touched since
// the cutoff and not created after it.
func (r *PGRepository) FindInactiveSince(ctx context.Context, cutoff time.Time) ([]Agency, error) {
	const selectSQL = `
SELECT ` + agencyColumns + `
FROM agencies a
WHERE a.status = 'active'
  AND a.created_at <= $1
  AND NOT EXISTS (
      SELECT 1 FROM conventions c
      WHERE c.agency_id = a.id AND c.updated_at > $1
  )
ORDER BY a.created_at
`
	rows, err := r.pool.Query(ctx, selectSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("agency: find inactive: %w", err)
	}
	defer rows.Close()

	var agencies []Agency
	for rows.Next() {
		ag, err := scanAgency(rows)
		if err != nil {
			return nil, fmt.Errorf("agency: scan: %w", err)
		}
		agencies = append(agencies, ag)
	}
	return agencies, rows.Err()
}

func scanAgency(row pgx.Row) (Agency, error) {
	var (
		ag     Agency
		rights []byte
	)
	if err := row.Scan(
		&ag.ID,
		&ag.Name,
		&ag.Status,
		&ag.StatusJustification,
		&ag.RefersToAgencyID,
		&rights,
		&ag.CreatedAt,
		&ag.UpdatedAt,
	); err != nil {
		return Agency{}, err
	}
	ag.UsersRights = map[string]UserRight{}
	if len(rights) > 0 {
		if err := json.Unmarshal(rights, &ag.UsersRights); err != nil {
			return Agency{}, fmt.Errorf("decode users rights: %w", err)
		}
	}
	return ag, nil
}
