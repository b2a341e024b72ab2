package outbox

import (
	"context"
	"errors"
	"testing"
	"time"
)

var outboxNow = time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC)

func seedEvent(t *testing.T, repo *MemoryRepository, id string, occurredAt time.Time) DomainEvent {
	t.Helper()
	event, err := NewEvent(id, "convention.fully_signed", map[string]string{"conventionId": "conv-1"}, occurredAt)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if err := repo.Save(context.Background(), nil, event); err != nil {
		t.Fatalf("save event: %v", err)
	}
	return event
}

func TestMemoryRepository_SaveRejectsDuplicateID(t *testing.T) {
	repo := NewMemoryRepository()
	event := seedEvent(t, repo, "event-1", outboxNow)

	if err := repo.Save(context.Background(), nil, event); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected ErrDuplicateEvent, got %v", err)
	}
}

func TestMemoryRepository_SelectDispatchableOrderAndLimit(t *testing.T) {
	repo := NewMemoryRepository()
	seedEvent(t, repo, "event-b", outboxNow.Add(2*time.Minute))
	seedEvent(t, repo, "event-a", outboxNow)
	seedEvent(t, repo, "event-c", outboxNow.Add(time.Minute))

	events, err := repo.SelectDispatchable(context.Background(), 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[0].ID != "event-a" || events[1].ID != "event-c" {
		t.Fatalf("expected [event-a event-c], got %v", eventIDs(events))
	}
}

func TestMemoryRepository_MarkInProcessClaimsOnce(t *testing.T) {
	repo := NewMemoryRepository()
	seedEvent(t, repo, "event-1", outboxNow)

	claimed, err := repo.MarkInProcess(context.Background(), []string{"event-1", "event-ghost"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 1 || claimed[0] != "event-1" {
		t.Fatalf("expected only event-1 claimed, got %v", claimed)
	}

	// A concurrent cycle racing on the same id claims nothing.
	claimed, err = repo.MarkInProcess(context.Background(), []string{"event-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected in-process event not claimable again, got %v", claimed)
	}

	events, _ := repo.SelectDispatchable(context.Background(), 10)
	if len(events) != 0 {
		t.Fatalf("expected in-process event excluded from dispatch, got %v", eventIDs(events))
	}
}

func TestMemoryRepository_StaleClaimIsReleasedAfterLease(t *testing.T) {
	now := outboxNow
	repo := NewMemoryRepository().WithClock(func() time.Time { return now })
	seedEvent(t, repo, "event-1", outboxNow)

	claimed, err := repo.MarkInProcess(context.Background(), []string{"event-1"})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("claim: claimed=%v err=%v", claimed, err)
	}

	// The claiming cycle dies without recording a result. Within the lease
	// the event stays invisible to other cycles.
	now = outboxNow.Add(InProcessLease / 2)
	if events, _ := repo.SelectDispatchable(context.Background(), 10); len(events) != 0 {
		t.Fatalf("expected claimed event hidden inside lease, got %v", eventIDs(events))
	}
	if failed, _ := repo.GetFailedEvents(context.Background()); len(failed) != 0 {
		t.Fatalf("expected no failed events inside lease, got %v", eventIDs(failed))
	}

	// Past the lease the claim is released: the event is dispatchable again,
	// visible to the operator, and a new cycle can take it over.
	now = outboxNow.Add(InProcessLease + time.Minute)
	events, err := repo.SelectDispatchable(context.Background(), 10)
	if err != nil {
		t.Fatalf("select after lease: %v", err)
	}
	if len(events) != 1 || events[0].ID != "event-1" {
		t.Fatalf("expected stale claim reselected, got %v", eventIDs(events))
	}
	failed, _ := repo.GetFailedEvents(context.Background())
	if len(failed) != 1 || failed[0].ID != "event-1" {
		t.Fatalf("expected stale claim listed for the operator, got %v", eventIDs(failed))
	}

	claimed, err = repo.MarkInProcess(context.Background(), []string{"event-1"})
	if err != nil || len(claimed) != 1 {
		t.Fatalf("reclaim: claimed=%v err=%v", claimed, err)
	}
	if err := repo.RecordPublicationResult(context.Background(), "event-1", Publication{AttemptedAt: now}); err != nil {
		t.Fatalf("record after reclaim: %v", err)
	}
	event, _ := repo.GetByID("event-1")
	if event.Status != StatusPublished || event.InProcessSince != nil {
		t.Fatalf("expected published with claim cleared, got status=%s since=%v",
			event.Status, event.InProcessSince)
	}
}

func TestMemoryRepository_PublicationOutcomes(t *testing.T) {
	repo := NewMemoryRepository()
	seedEvent(t, repo, "event-1", outboxNow)

	if _, err := repo.MarkInProcess(context.Background(), []string{"event-1"}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := repo.RecordPublicationResult(context.Background(), "event-1", Publication{AttemptedAt: outboxNow}); err != nil {
		t.Fatalf("record: %v", err)
	}

	event, ok := repo.GetByID("event-1")
	if !ok {
		t.Fatal("event vanished")
	}
	if event.Status != StatusPublished {
		t.Fatalf("expected published, got %s", event.Status)
	}
	if len(event.Publications) != 1 {
		t.Fatalf("expected one ledger entry, got %d", len(event.Publications))
	}

	events, _ := repo.SelectDispatchable(context.Background(), 10)
	if len(events) != 0 {
		t.Fatalf("expected published event excluded from dispatch, got %v", eventIDs(events))
	}
}

func TestMemoryRepository_QuarantineAfterMaxAttempts(t *testing.T) {
	repo := NewMemoryRepository()
	seedEvent(t, repo, "event-1", outboxNow)

	failure := Publication{
		AttemptedAt: outboxNow,
		Failures:    []FailureRecord{{Subscriber: "materializer", Message: "boom"}},
	}

	for attempt := 1; attempt <= MaxPublicationAttempts; attempt++ {
		if _, err := repo.MarkInProcess(context.Background(), []string{"event-1"}); err != nil {
			t.Fatalf("attempt %d claim: %v", attempt, err)
		}
		if err := repo.RecordPublicationResult(context.Background(), "event-1", failure); err != nil {
			t.Fatalf("attempt %d record: %v", attempt, err)
		}

		event, _ := repo.GetByID("event-1")
		if attempt < MaxPublicationAttempts {
			if event.Status != StatusFailedButWillRetry || event.WasQuarantined {
				t.Fatalf("attempt %d: expected retry state, got status=%s quarantined=%v",
					attempt, event.Status, event.WasQuarantined)
			}
		} else {
			if !event.WasQuarantined {
				t.Fatalf("expected quarantine after %d failures", MaxPublicationAttempts)
			}
		}
	}

	events, _ := repo.SelectDispatchable(context.Background(), 10)
	if len(events) != 0 {
		t.Fatalf("expected quarantined event excluded from dispatch, got %v", eventIDs(events))
	}

	// The ledger keeps every attempt for the audit trail.
	event, _ := repo.GetByID("event-1")
	if len(event.Publications) != MaxPublicationAttempts {
		t.Fatalf("expected %d ledger entries, got %d", MaxPublicationAttempts, len(event.Publications))
	}

	failed, err := repo.GetFailedEvents(context.Background())
	if err != nil {
		t.Fatalf("get failed events: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "event-1" {
		t.Fatalf("expected quarantined event listed as failed, got %v", eventIDs(failed))
	}
}

func TestMemoryRepository_SuccessAfterFailureResets(t *testing.T) {
	repo := NewMemoryRepository()
	seedEvent(t, repo, "event-1", outboxNow)

	failure := Publication{
		AttemptedAt: outboxNow,
		Failures:    []FailureRecord{{Subscriber: "materializer", Message: "boom"}},
	}
	repo.MarkInProcess(context.Background(), []string{"event-1"})
	repo.RecordPublicationResult(context.Background(), "event-1", failure)

	repo.MarkInProcess(context.Background(), []string{"event-1"})
	if err := repo.RecordPublicationResult(context.Background(), "event-1", Publication{AttemptedAt: outboxNow.Add(time.Minute)}); err != nil {
		t.Fatalf("record success: %v", err)
	}

	event, _ := repo.GetByID("event-1")
	if event.Status != StatusPublished || event.WasQuarantined {
		t.Fatalf("expected published after recovery, got status=%s quarantined=%v", event.Status, event.WasQuarantined)
	}
	if len(event.Publications) != 2 {
		t.Fatalf("expected two ledger entries, got %d", len(event.Publications))
	}
}

func TestMemoryRepository_CountAllEvents(t *testing.T) {
	repo := NewMemoryRepository()
	seedEvent(t, repo, "event-1", outboxNow)
	seedEvent(t, repo, "event-2", outboxNow)

	repo.MarkInProcess(context.Background(), []string{"event-1"})
	repo.RecordPublicationResult(context.Background(), "event-1", Publication{AttemptedAt: outboxNow})

	published, err := repo.CountAllEvents(context.Background(), StatusPublished)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if published != 1 {
		t.Fatalf("expected 1 published, got %d", published)
	}
	pending, _ := repo.CountAllEvents(context.Background(), StatusNeverPublished)
	if pending != 1 {
		t.Fatalf("expected 1 never-published, got %d", pending)
	}
}

func TestRecordPublicationResult_UnknownEvent(t *testing.T) {
	repo := NewMemoryRepository()
	err := repo.RecordPublicationResult(context.Background(), "ghost", Publication{AttemptedAt: outboxNow})
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func eventIDs(events []DomainEvent) []string {
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids
}
