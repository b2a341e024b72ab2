package outbox

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"
)

// Subscription is one named consumer of a topic. A failing handler is recorded
// in the event's publication ledger and retried on a later cycle.
type Subscription struct {
	Name   string
	Handle func(ctx context.Context, event DomainEvent) error
}

// Dispatcher drains the outbox: it claims a batch of dispatchable events,
// fans each event to the subscribers of its topic across a bounded worker
// pool, and records one publication per event.
type Dispatcher struct {
	repo      Repository
	subs      map[string][]Subscription
	workers   int
	batchSize int
	now       func() time.Time
}

func NewDispatcher(repo Repository, workers, batchSize int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Dispatcher{
		repo:      repo,
		subs:      map[string][]Subscription{},
		workers:   workers,
		batchSize: batchSize,
		now:       time.Now,
	}
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Subscribe registers a handler for a topic. Must be called before Run.
func (d *Dispatcher) Subscribe(topic, name string, handle func(ctx context.Context, event DomainEvent) error) {
	d.subs[topic] = append(d.subs[topic], Subscription{Name: name, Handle: handle})
}

// RunCycle performs one claim-and-deliver pass and returns how many events
// were attempted. Events claimed by a concurrent cycle are skipped.
func (d *Dispatcher) RunCycle(ctx context.Context) (int, error) {
	events, err := d.repo.SelectDispatchable(ctx, d.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	claimedIDs, err := d.repo.MarkInProcess(ctx, ids)
	if err != nil {
		return 0, err
	}
	claimed := map[string]bool{}
	for _, id := range claimedIDs {
		claimed[id] = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	attempted := 0
	for _, ev := range events {
		if !claimed[ev.ID] {
			continue
		}
		attempted++
		ev := ev
		g.Go(func() error {
			return d.deliver(gctx, ev)
		})
	}
	if err := g.Wait(); err != nil {
		return attempted, err
	}
	return attempted, nil
}

// deliver runs every subscriber of the topic and records the attempt. Handler
// errors are captured as failure records, not returned: only the inability to
// persist the result aborts the cycle.
func (d *Dispatcher) deliver(ctx context.Context, event DomainEvent) error {
	pub := Publication{AttemptedAt: d.now().UTC()}
	for _, sub := range d.subs[event.Topic] {
		if err := sub.Handle(ctx, event); err != nil {
			pub.Failures = append(pub.Failures, FailureRecord{
				Subscriber: sub.Name,
				Message:    err.Error(),
			})
		}
	}
	return d.repo.RecordPublicationResult(ctx, event.ID, pub)
}

// Run polls the outbox until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			attempted, err := d.RunCycle(ctx)
			if err != nil {
				log.Printf("outbox dispatch cycle: %v", err)
				continue
			}
			if attempted > 0 {
				log.Printf("outbox dispatch cycle: attempted %d events", attempted)
			}
		}
	}
}
