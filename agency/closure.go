package agency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"immersion/outbox"
)

// InactivityWindow is how long an agency may stay without convention
// activity before the closure sweep shuts it down.
const InactivityWindow = 6 * 30 * 24 * time.Hour

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventWriter appends a domain event inside the caller's transaction.
type EventWriter interface {
	Save(ctx context.Context, tx pgx.Tx, event outbox.DomainEvent) error
}

// ClosureSweep closes agencies inactive for at least InactivityWindow and
// raises a single event for the whole run, so admins of every closed agency
// are notified through one batched materialization.
type ClosureSweep struct {
	pool   TxBeginner
	repo   Repository
	events EventWriter
	idGen  func() string
	now    func() time.Time
}

func NewClosureSweep(pool TxBeginner, repo Repository, events EventWriter) *ClosureSweep {
	return &ClosureSweep{
		pool:   pool,
		repo:   repo,
		events: events,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

func (s *ClosureSweep) WithIDGenerator(gen func() string) *ClosureSweep {
	s.idGen = gen
	return s
}

func (s *ClosureSweep) WithClock(now func() time.Time) *ClosureSweep {
	s.now = now
	return s
}

// Run closes every inactive agency and returns the closed ids. At most one
// event is appended per run; a run affecting nothing appends nothing.
func (s *ClosureSweep) Run(ctx context.Context) ([]string, error) {
	now := s.now()
	cutoff := now.Add(-InactivityWindow)

	inactive, err := s.repo.FindInactiveSince(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if len(inactive) == 0 {
		return nil, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("agency: begin closure tx: %w", err)
	}
	defer tx.Rollback(ctx)

	justification := fmt.Sprintf("closed automatically after %d months without activity", int(InactivityWindow/(30*24*time.Hour)))
	ids := make([]string, 0, len(inactive))
	for _, ag := range inactive {
		if err := s.repo.UpdateStatus(ctx, tx, ag.ID, StatusClosed, justification); err != nil {
			return nil, err
		}
		ids = append(ids, ag.ID)
	}

	event, err := outbox.NewEvent(s.idGen(), TopicClosedForInactivity, ClosurePayload{
		AgencyIDs: ids,
		Cutoff:    cutoff.UTC(),
	}, now)
	if err != nil {
		return nil, err
	}
	if err := s.events.Save(ctx, tx, event); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("agency: commit closure tx: %w", err)
	}
	return ids, nil
}
