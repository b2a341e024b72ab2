package agency

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// MemoryRepository is a mutex-guarded in-memory Repository for unit tests.
// The tx argument is ignored. LastConventionActivity stands in for the
// conventions join the PostgreSQL repository performs.
type MemoryRepository struct {
	mu                     sync.Mutex
	agencies               map[string]Agency
	LastConventionActivity map[string]time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		agencies:               map[string]Agency{},
		LastConventionActivity: map[string]time.Time{},
	}
}

// Put stores an agency. Test helper.
func (r *MemoryRepository) Put(ag Agency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agencies[ag.ID] = ag
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (Agency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ag, ok := r.agencies[id]
	if !ok {
		return Agency{}, ErrAgencyNotFound
	}
	return ag, nil
}

func (r *MemoryRepository) GetByIDs(ctx context.Context, ids []string) ([]Agency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		agencies []Agency
		missing  []string
	)
	for _, id := range ids {
		ag, ok := r.agencies[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		agencies = append(agencies, ag)
	}
	if len(missing) > 0 {
		return nil, MissingAgenciesError{IDs: missing}
	}
	return agencies, nil
}

func (r *MemoryRepository) GetByRefersToAgencyID(ctx context.Context, agencyID string) ([]Agency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var agencies []Agency
	for _, ag := range r.agencies {
		if ag.RefersToAgencyID != nil && *ag.RefersToAgencyID == agencyID {
			agencies = append(agencies, ag)
		}
	}
	sort.Slice(agencies, func(i, j int) bool { return agencies[i].ID < agencies[j].ID })
	return agencies, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, _ pgx.Tx, id string, status Status, justification string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ag, ok := r.agencies[id]
	if !ok {
		return ErrAgencyNotFound
	}
	ag.Status = status
	ag.StatusJustification = &justification
	r.agencies[id] = ag
	return nil
}

func (r *MemoryRepository) FindInactiveSince(ctx context.Context, cutoff time.Time) ([]Agency, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var inactive []Agency
	for _, ag := range r.agencies {
		if ag.Status != StatusActive || ag.CreatedAt.After(cutoff) {
			continue
		}
		if last, ok := r.LastConventionActivity[ag.ID]; ok && last.After(cutoff) {
			continue
		}
		inactive = append(inactive, ag)
	}
	sort.Slice(inactive, func(i, j int) bool { return inactive[i].ID < inactive[j].ID })
	return inactive, nil
}
