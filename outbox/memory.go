package outbox

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// MemoryRepository keeps events in a mutex-guarded map. It mirrors the
// PostgreSQL repository semantics and backs unit tests; the tx argument is
// ignored.
type MemoryRepository struct {
	mu     sync.Mutex
	events map[string]DomainEvent
	now    func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		events: map[string]DomainEvent{},
		now:    time.Now,
	}
}

func (r *MemoryRepository) WithClock(now func() time.Time) *MemoryRepository {
	r.now = now
	return r
}

func (r *MemoryRepository) Save(ctx context.Context, _ pgx.Tx, event DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; ok {
		return ErrDuplicateEvent
	}
	r.events[event.ID] = event
	return nil
}

func (r *MemoryRepository) SelectDispatchable(ctx context.Context, limit int) ([]DomainEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eligible := r.dispatchableLocked()
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

func (r *MemoryRepository) MarkInProcess(ctx context.Context, ids []string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	var claimed []string
	for _, id := range ids {
		ev, ok := r.events[id]
		if !ok || ev.WasQuarantined {
			continue
		}
		if !claimableLocked(ev, now) {
			continue
		}
		ev.Status = StatusInProcess
		ev.InProcessSince = &now
		r.events[id] = ev
		claimed = append(claimed, id)
	}
	return claimed, nil
}

// claimableLocked mirrors the SQL claim predicate: fresh events, failed
// retries, and in-process claims whose lease expired.
func claimableLocked(ev DomainEvent, now time.Time) bool {
	switch ev.Status {
	case StatusNeverPublished, StatusFailedButWillRetry:
		return true
	case StatusInProcess:
		return ev.InProcessSince != nil && ev.InProcessSince.Before(now.Add(-InProcessLease))
	default:
		return false
	}
}

func (r *MemoryRepository) RecordPublicationResult(ctx context.Context, eventID string, pub Publication) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Publications = append(ev.Publications, pub)
	ev.Status, ev.WasQuarantined = nextState(ev.Publications, pub)
	ev.InProcessSince = nil
	r.events[eventID] = ev
	return nil
}

func (r *MemoryRepository) CountAllEvents(ctx context.Context, status Status) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, ev := range r.events {
		if ev.Status == status {
			count++
		}
	}
	return count, nil
}

func (r *MemoryRepository) GetEventsToPublish(ctx context.Context) ([]DomainEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dispatchableLocked(), nil
}

func (r *MemoryRepository) GetFailedEvents(ctx context.Context) ([]DomainEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	var failed []DomainEvent
	for _, ev := range r.events {
		if ev.WasQuarantined || ev.Status == StatusFailedButWillRetry || staleClaimLocked(ev, now) {
			failed = append(failed, ev)
		}
	}
	sortByOccurredAt(failed)
	return failed, nil
}

func staleClaimLocked(ev DomainEvent, now time.Time) bool {
	return ev.Status == StatusInProcess &&
		ev.InProcessSince != nil &&
		ev.InProcessSince.Before(now.Add(-InProcessLease))
}

// GetByID returns a stored event. Test helper, not part of Repository.
func (r *MemoryRepository) GetByID(id string) (DomainEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev, ok := r.events[id]
	return ev, ok
}

// All returns every stored event ordered by occurrence. Test helper.
func (r *MemoryRepository) All() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := make([]DomainEvent, 0, len(r.events))
	for _, ev := range r.events {
		all = append(all, ev)
	}
	sortByOccurredAt(all)
	return all
}

func (r *MemoryRepository) dispatchableLocked() []DomainEvent {
	now := r.now().UTC()
	var eligible []DomainEvent
	for _, ev := range r.events {
		if ev.WasQuarantined {
			continue
		}
		if claimableLocked(ev, now) {
			eligible = append(eligible, ev)
		}
	}
	sortByOccurredAt(eligible)
	return eligible
}

func sortByOccurredAt(events []DomainEvent) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].OccurredAt.Equal(events[j].OccurredAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}
