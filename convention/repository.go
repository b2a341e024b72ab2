package convention

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

// Repository handles convention data access. Tx-suffixed methods run inside
// the caller's transaction; the transition service relies on
// GetByIDForUpdate to serialize concurrent transitions on the same id.
type Repository interface {
	GetByID(ctx context.Context, id string) (Convention, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error)
	Save(ctx context.Context, conv Convention) error
	Update(ctx context.Context, conv Convention) error
	UpdateTx(ctx context.Context, tx pgx.Tx, conv Convention) error
	DeprecateConventionsEndedSince(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]string, error)
}

// AssessmentChecker reports whether an assessment was filed for a
// convention. The assessment domain itself lives outside this core.
type AssessmentChecker interface {
	Exists(ctx context.Context, conventionID string) (bool, error)
}

// PGRepository implements Repository backed by PostgreSQL. Signatories,
// tutor and validators are stored as jsonb.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const conventionColumns = `id, status, agency_id, establishment_siret, signatories, establishment_tutor,
date_start, date_end, date_approval, date_validation, status_justification, validators,
federated_advisor_email, created_at, updated_at`

func (r *PGRepository) GetByID(ctx context.Context, id string) (Convention, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+conventionColumns+` FROM conventions WHERE id=$1`, id)
	return scanConvention(row)
}

// GetByIDForUpdate locks the row for the remainder of the transaction.
func (r *PGRepository) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error) {
	row := tx.QueryRow(ctx, `SELECT `+conventionColumns+` FROM conventions WHERE id=$1 FOR UPDATE`, id)
	return scanConvention(row)
}

// Save inserts a new convention and fails on an existing id.
func (r *PGRepository) Save(ctx context.Context, conv Convention) error {
	signatories, tutor, validators, err := encodeJSONColumns(conv)
	if err != nil {
		return err
	}
	const insertSQL = `
INSERT INTO conventions (id, status, agency_id, establishment_siret, signatories, establishment_tutor,
                         date_start, date_end, date_approval, date_validation, status_justification,
                         validators, federated_advisor_email, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5::jsonb,$6::jsonb,$7,$8,$9,$10,$11,$12::jsonb,$13,$14,$15)
`
	if _, err := r.pool.Exec(ctx, insertSQL,
		conv.ID, conv.Status, conv.AgencyID, conv.EstablishmentSiret, signatories, tutor,
		conv.DateStart, conv.DateEnd, conv.DateApproval, conv.DateValidation, conv.StatusJustification,
		validators, conv.FederatedAdvisorEmail, conv.CreatedAt, conv.UpdatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateConvention
		}
		return fmt.Errorf("convention: insert: %w", err)
	}
	return nil
}

func (r *PGRepository) Update(ctx context.Context, conv Convention) error {
	return r.update(ctx, r.pool, conv)
}

func (r *PGRepository) UpdateTx(ctx context.Context, tx pgx.Tx, conv Convention) error {
	return r.update(ctx, tx, conv)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (r *PGRepository) update(ctx context.Context, db execer, conv Convention) error {
	signatories, tutor, validators, err := encodeJSONColumns(conv)
	if err != nil {
		return err
	}
	const updateSQL = `
UPDATE conventions
SET status=$2, signatories=$3::jsonb, establishment_tutor=$4::jsonb,
    date_approval=$5, date_validation=$6, status_justification=$7,
    validators=$8::jsonb, updated_at=$9
WHERE id=$1
`
	tag, err := db.Exec(ctx, updateSQL,
		conv.ID, conv.Status, signatories, tutor,
		conv.DateApproval, conv.DateValidation, conv.StatusJustification,
		validators, conv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("convention: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConventionNotFound
	}
	return nil
}

// DeprecateConventionsEndedSince moves every convention still in a signing or
// review status whose end date passed before the cutoff to DEPRECATED, and
// returns the affected ids.
func (r *PGRepository) DeprecateConventionsEndedSince(ctx context.Context, tx pgx.Tx, cutoff time.Time) ([]string, error) {
	const updateSQL = `
UPDATE conventions
SET status='DEPRECATED',
    status_justification='deprecated automatically: end date long passed',
    updated_at=now()
WHERE date_end < $1
  AND status IN ('READY_TO_SIGN','PARTIALLY_SIGNED','IN_REVIEW','ACCEPTED_BY_COUNSELLOR')
RETURNING id
`
	rows, err := tx.Query(ctx, updateSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("convention: deprecate ended: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convention: scan deprecated id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func encodeJSONColumns(conv Convention) (signatories, tutor, validators []byte, err error) {
	if signatories, err = json.Marshal(conv.Signatories); err != nil {
		return nil, nil, nil, fmt.Errorf("convention: marshal signatories: %w", err)
	}
	if tutor, err = json.Marshal(conv.EstablishmentTutor); err != nil {
		return nil, nil, nil, fmt.Errorf("convention: marshal tutor: %w", err)
	}
	if validators, err = json.Marshal(conv.Validators); err != nil {
		return nil, nil, nil, fmt.Errorf("convention: marshal validators: %w", err)
	}
	return signatories, tutor, validators, nil
}

func scanConvention(row pgx.Row) (Convention, error) {
	var (
		conv        Convention
		signatories []byte
		tutor       []byte
		validators  []byte
	)
	err := row.Scan(
		&conv.ID,
		&conv.Status,
		&conv.AgencyID,
		&conv.EstablishmentSiret,
		&signatories,
		&tutor,
		&conv.DateStart,
		&conv.DateEnd,
		&conv.DateApproval,
		&conv.DateValidation,
		&conv.StatusJustification,
		&validators,
		&conv.FederatedAdvisorEmail,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Convention{}, ErrConventionNotFound
		}
		return Convention{}, fmt.Errorf("convention: scan: %w", err)
	}
	if err := json.Unmarshal(signatories, &conv.Signatories); err != nil {
		return Convention{}, fmt.Errorf("convention: decode signatories: %w", err)
	}
	if err := json.Unmarshal(tutor, &conv.EstablishmentTutor); err != nil {
		return Convention{}, fmt.Errorf("convention: decode tutor: %w", err)
	}
	if len(validators) > 0 {
		if err := json.Unmarshal(validators, &conv.Validators); err != nil {
			return Convention{}, fmt.Errorf("convention: decode validators: %w", err)
		}
	}
	return conv, nil
}

// PGAssessmentChecker looks assessments up in the assessments table owned by
// the (out-of-core) assessment domain.
type PGAssessmentChecker struct {
	pool *pgxpool.Pool
}

func NewPGAssessmentChecker(pool *pgxpool.Pool) *PGAssessmentChecker {
	return &PGAssessmentChecker{pool: pool}
}

func (c *PGAssessmentChecker) Exists(ctx context.Context, conventionID string) (bool, error) {
	var exists bool
	if err := c.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM assessments WHERE convention_id=$1)`, conventionID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("convention: check assessment: %w", err)
	}
	return exists, nil
}
