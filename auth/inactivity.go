package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"immersion/outbox"
)

// InactivityWindow is how long a user may stay inactive before the warning
// sweep notifies them.
const InactivityWindow = 2 * 365 * 24 * time.Hour

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventWriter appends a domain event inside the caller's transaction.
type EventWriter interface {
	Save(ctx context.Context, tx pgx.Tx, event outbox.DomainEvent) error
}

// InactivityWarningSweep warns users inactive for at least InactivityWindow.
// One event per run; warned users are stamped so the next run skips them.
type InactivityWarningSweep struct {
	pool   TxBeginner
	repo   Repository
	events EventWriter
	idGen  func() string
	now    func() time.Time
}

func NewInactivityWarningSweep(pool TxBeginner, repo Repository, events EventWriter) *InactivityWarningSweep {
	return &InactivityWarningSweep{
		pool:   pool,
		repo:   repo,
		events: events,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (s *InactivityWarningSweep) WithIDGenerator(gen func() string) *InactivityWarningSweep {
	s.idGen = gen
	return s
}

func (s *InactivityWarningSweep) WithClock(now func() time.Time) *InactivityWarningSweep {
	s.now = now
	return s
}

// Run warns every eligible user and returns the warned ids.
func (s *InactivityWarningSweep) Run(ctx context.Context) ([]string, error) {
	now := s.now()
	cutoff := now.Add(-InactivityWindow)

	users, err := s.repo.FindInactiveSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("auth: begin inactivity tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}
	if err := s.repo.MarkInactivityWarned(ctx, tx, ids, now); err != nil {
		return nil, err
	}

	event, err := outbox.NewEvent(s.idGen(), TopicInactivityWarning, InactivityPayload{
		UserIDs: ids,
		Cutoff:  cutoff.UTC(),
	}, now)
	if err != nil {
		return nil, err
	}
	if err := s.events.Save(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("auth: commit inactivity tx: %w", err)
	}
	return ids, nil
}
