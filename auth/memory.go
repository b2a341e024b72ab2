package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// MemoryRepository is a mutex-guarded in-memory Repository for unit tests.
// The tx argument is ignored.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]User
	seq   int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: map[string]User{}}
}

// Put stores a user as-is. Test helper.
func (r *MemoryRepository) Put(user User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

func (r *MemoryRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, params.Email) {
			return User{}, ErrDuplicateEmail
		}
	}
	r.seq++
	now := time.Now()
	user := User{
		ID:           fmt.Sprintf("user-mem-%d", r.seq),
		Email:        params.Email,
		FirstName:    params.FirstName,
		LastName:     params.LastName,
		PasswordHash: params.PasswordHash,
		IsBackOffice: params.IsBackOffice,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.users[user.ID] = user
	return user, nil
}

func (r *MemoryRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound
}

func (r *MemoryRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (r *MemoryRepository) GetUsersByIDs(ctx context.Context, userIDs []string) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		users   []User
		missing []string
	)
	for _, id := range userIDs {
		u, ok := r.users[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		users = append(users, u)
	}
	if len(missing) > 0 {
		return nil, MissingUsersError{IDs: missing}
	}
	return users, nil
}

func (r *MemoryRepository) FindInactiveSince(ctx context.Context, cutoff time.Time) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var users []User
	for _, u := range r.users {
		if !u.LastActiveAt.Before(cutoff) {
			continue
		}
		if u.InactivityWarnedAt != nil && !u.InactivityWarnedAt.Before(u.LastActiveAt) {
			continue
		}
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].LastActiveAt.Before(users[j].LastActiveAt) })
	return users, nil
}

func (r *MemoryRepository) MarkInactivityWarned(ctx context.Context, _ pgx.Tx, userIDs []string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range userIDs {
		u, ok := r.users[id]
		if !ok {
			continue
		}
		t := at
		u.InactivityWarnedAt = &t
		r.users[id] = u
	}
	return nil
}
