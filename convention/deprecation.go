package convention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"immersion/outbox"
)

// DeprecationGracePeriod is how long after its end date a convention stuck
// in a signing or review status is kept before the sweep deprecates it.
const DeprecationGracePeriod = 30 * 24 * time.Hour

// DeprecationSweep moves long-ended conventions to DEPRECATED. The terminal
// write bypasses the lifecycle engine (no actor drives it) and the whole run
// raises a single event listing the affected ids.
type DeprecationSweep struct {
	pool   TxBeginner
	repo   Repository
	events EventWriter
	idGen  func() string
	now    func() time.Time
}

func NewDeprecationSweep(pool TxBeginner, repo Repository, events EventWriter) *DeprecationSweep {
	return &DeprecationSweep{
		pool:   pool,
		repo:   repo,
		events: events,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (s *DeprecationSweep) WithIDGenerator(gen func() string) *DeprecationSweep {
	s.idGen = gen
	return s
}

func (s *DeprecationSweep) WithClock(now func() time.Time) *DeprecationSweep {
	s.now = now
	return s
}

// Run deprecates every eligible convention and returns the affected ids. At
// most one event is appended per run.
func (s *DeprecationSweep) Run(ctx context.Context) ([]string, error) {
	now := s.now()
	cutoff := now.Add(-DeprecationGracePeriod)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("convention: begin deprecation tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ids, err := s.repo.DeprecateConventionsEndedSince(ctx, tx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	event, err := outbox.NewEvent(s.idGen(), TopicDeprecated, DeprecationPayload{
		ConventionIDs: ids,
		Cutoff:        cutoff.UTC(),
	}, now)
	if err != nil {
		return nil, err
	}
	if err := s.events.Save(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("convention: commit deprecation tx: %w", err)
	}
	return ids, nil
}
