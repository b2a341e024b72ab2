package convention

import (
	"context"
	"testing"
	"time"

	"immersion/outbox"
)

func TestDeprecationSweep_DeprecatesLongEndedConventions(t *testing.T) {
	pool := &fakePool{}
	repo := NewMemoryRepository()
	events := outbox.NewMemoryRepository()
	sweep := NewDeprecationSweep(pool, repo, events).
		WithIDGenerator(func() string { return "sweep-event-1" }).
		WithClock(func() time.Time { return testNow })

	ctx := context.Background()

	stale := testConvention(StatusPartiallySigned)
	stale.ID = "conv-stale"
	stale.DateEnd = testNow.Add(-2 * DeprecationGracePeriod)
	if err := repo.Save(ctx, stale); err != nil {
		t.Fatalf("seed: %v", err)
	}

	fresh := testConvention(StatusPartiallySigned)
	fresh.ID = "conv-fresh"
	fresh.DateEnd = testNow.Add(-time.Hour)
	if err := repo.Save(ctx, fresh); err != nil {
		t.Fatalf("seed: %v", err)
	}

	validated := testConvention(StatusAcceptedByValidator)
	validated.ID = "conv-validated"
	validated.DateEnd = testNow.Add(-2 * DeprecationGracePeriod)
	if err := repo.Save(ctx, validated); err != nil {
		t.Fatalf("seed: %v", err)
	}

	ids, err := sweep.Run(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "conv-stale" {
		t.Fatalf("expected only conv-stale deprecated, got %v", ids)
	}

	stored, _ := repo.GetByID(ctx, "conv-stale")
	if stored.Status != StatusDeprecated {
		t.Fatalf("expected DEPRECATED, got %s", stored.Status)
	}
	untouched, _ := repo.GetByID(ctx, "conv-validated")
	if untouched.Status != StatusAcceptedByValidator {
		t.Fatalf("expected validated convention untouched, got %s", untouched.Status)
	}

	saved := events.All()
	if len(saved) != 1 {
		t.Fatalf("expected one event for the whole run, got %d", len(saved))
	}
	if saved[0].Topic != TopicDeprecated {
		t.Fatalf("expected topic %s, got %s", TopicDeprecated, saved[0].Topic)
	}
	var payload DeprecationPayload
	if err := saved[0].UnmarshalPayload(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.ConventionIDs) != 1 || payload.ConventionIDs[0] != "conv-stale" {
		t.Fatalf("expected payload listing conv-stale, got %v", payload.ConventionIDs)
	}
	if pool.tx == nil || !pool.tx.committed {
		t.Fatal("expected transaction committed")
	}
}

func TestDeprecationSweep_EmptyRunAppendsNothing(t *testing.T) {
	pool := &fakePool{}
	repo := NewMemoryRepository()
	events := outbox.NewMemoryRepository()
	sweep := NewDeprecationSweep(pool, repo, events).
		WithClock(func() time.Time { return testNow })

	ids, err := sweep.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids != nil {
		t.Fatalf("expected no deprecated ids, got %v", ids)
	}
	if len(events.All()) != 0 {
		t.Fatal("expected no event for an empty run")
	}
}
