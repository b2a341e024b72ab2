package notification

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
)

type key struct {
	id   string
	kind Kind
}

// MemoryRepository is a mutex-guarded in-memory Repository for unit tests.
// The tx argument is ignored.
type MemoryRepository struct {
	mu            sync.Mutex
	notifications map[key]Notification
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{notifications: map[key]Notification{}}
}

func (r *MemoryRepository) Save(ctx context.Context, _ pgx.Tx, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[key{n.ID, n.Kind}] = n
	return nil
}

func (r *MemoryRepository) SaveBatch(ctx context.Context, tx pgx.Tx, batch []Notification) error {
	for _, n := range batch {
		if err := r.Save(ctx, tx, n); err != nil {
			return err
		}
	}
	return nil
}

func (r *MemoryRepository) GetByIDAndKind(ctx context.Context, id string, kind Kind) (Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.notifications[key{id, kind}]
	if !ok {
		return Notification{}, ErrNotificationNotFound
	}
	return n, nil
}

func (r *MemoryRepository) GetEmailsByFilters(ctx context.Context, filters EmailFilters) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := map[string]bool{}
	var emails []string
	for _, n := range r.notifications {
		if n.Kind != KindEmail {
			continue
		}
		if filters.ConventionID != "" && n.FollowedIDs.ConventionID != filters.ConventionID {
			continue
		}
		if filters.AgencyID != "" && n.FollowedIDs.AgencyID != filters.AgencyID {
			continue
		}
		if !filters.CreatedAfter.IsZero() && !n.CreatedAt.After(filters.CreatedAfter) {
			continue
		}
		for _, email := range n.Content.Recipients {
			lower := strings.ToLower(email)
			if !seen[lower] {
				seen[lower] = true
				emails = append(emails, email)
			}
		}
	}
	sort.Strings(emails)
	return emails, nil
}

func (r *MemoryRepository) MarkDelivery(ctx context.Context, id string, kind Kind, state DeliveryState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key{id, kind}
	n, ok := r.notifications[k]
	if !ok {
		return ErrNotificationNotFound
	}
	n.State = &state
	r.notifications[k] = n
	return nil
}

// All returns every stored notification sorted by id. Test helper.
func (r *MemoryRepository) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]Notification, 0, len(r.notifications))
	for _, n := range r.notifications {
		all = append(all, n)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].ID == all[j].ID {
			return all[i].Kind < all[j].Kind
		}
		return all[i].ID < all[j].ID
	})
	return all
}
