package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// MissingUsersError names every id a GetByIDs call could not resolve.
type MissingUsersError struct {
	IDs []string
}

func (e MissingUsersError) Error() string {
	return fmt.Sprintf("auth: users not found: %s", strings.Join(e.IDs, ", "))
}

// Repository handles data access for the user directory.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUsersByIDs(ctx context.Context, userIDs []string) ([]User, error)
	FindInactiveSince(ctx context.Context, cutoff time.Time) ([]User, error)
	MarkInactivityWarned(ctx context.Context, tx pgx.Tx, userIDs []string, at time.Time) error
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	IsBackOffice bool
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository creates a PostgreSQL-backed user repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, email, first_name, last_name, password_hash, is_back_office,
last_active_at, inactivity_warned_at, created_at, updated_at`

// CreateUser inserts a new user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	const insertSQL = `
		INSERT INTO users (email, first_name, last_name, password_hash, is_back_office, last_active_at)
		VALUES ($1, $2, $3, $4, $5, now())
		RETURNING ` + userColumns + `
	`
	user, err := scanUser(r.pool.QueryRow(ctx, insertSQL,
		params.Email, params.FirstName, params.LastName, params.PasswordHash, params.IsBackOffice))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user by email address.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by email: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	user, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}
	return user, nil
}

// GetUsersByIDs resolves every id or fails naming the missing ones.
func (r *PGRepository) GetUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = ANY($1::uuid[])`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("auth: get users by ids: %w", err)
	}
	defer rows.Close()

	found := map[string]bool{}
	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("auth: scan user: %w", err)
		}
		found[user.ID] = true
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var missing []string
	for _, id := range userIDs {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, MissingUsersError{IDs: missing}
	}
	return users, nil
}

// FindInactiveSince returns users whose last activity predates the cutoff
// and who have not already been warned since then.
func (r *PGRepository) FindInactiveSince(ctx context.Context, cutoff time.Time) ([]User, error) {
	const selectSQL = `
		SELECT ` + userColumns + `
		FROM users
		WHERE last_active_at < $1
		  AND (inactivity_warned_at IS NULL OR inactivity_warned_at < last_active_at)
		ORDER BY last_active_at
	`
	rows, err := r.pool.Query(ctx, selectSQL, cutoff)
	if err != nil {
		return nil, fmt.Errorf("auth: find inactive users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("auth: scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// MarkInactivityWarned stamps the warning timestamp inside the caller's
// transaction so a run's warnings commit together with its event.
func (r *PGRepository) MarkInactivityWarned(ctx context.Context, tx pgx.Tx, userIDs []string, at time.Time) error {
	if _, err := tx.Exec(ctx,
		`UPDATE users SET inactivity_warned_at = $1, updated_at = now() WHERE id = ANY($2::uuid[])`,
		at, userIDs,
	); err != nil {
		return fmt.Errorf("auth: mark inactivity warned: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FirstName,
		&user.LastName,
		&user.PasswordHash,
		&user.IsBackOffice,
		&user.LastActiveAt,
		&user.InactivityWarnedAt,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
