package notification

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"immersion/outbox"
)

type fakeGateway struct {
	emails   []string
	smss     []string
	emailErr error
	seq      int
}

func (g *fakeGateway) SendEmail(ctx context.Context, n Notification) (string, error) {
	if g.emailErr != nil {
		return "", g.emailErr
	}
	g.emails = append(g.emails, n.ID)
	g.seq++
	return fmt.Sprintf("provider-%d", g.seq), nil
}

func (g *fakeGateway) SendSMS(ctx context.Context, n Notification) (string, error) {
	g.smss = append(g.smss, n.ID)
	g.seq++
	return fmt.Sprintf("provider-%d", g.seq), nil
}

func seedNotification(t *testing.T, repo *MemoryRepository, id string, kind Kind) Notification {
	t.Helper()
	n := Notification{
		ID:   id,
		Kind: kind,
		Content: TemplatedContent{
			Template:   "CONVENTION_FULLY_SIGNED_REVIEW",
			Recipients: []string{"nora@example.com"},
		},
		FollowedIDs: FollowedIDs{ConventionID: "conv-1"},
		CreatedAt:   notifNow,
	}
	if err := repo.Save(context.Background(), nil, n); err != nil {
		t.Fatalf("seed notification: %v", err)
	}
	return n
}

func batchEvent(t *testing.T, refs ...Ref) outbox.DomainEvent {
	t.Helper()
	event, err := outbox.NewEvent("batch-1", TopicBatchAdded, BatchAddedPayload{Notifications: refs}, notifNow)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	return event
}

func TestSender_DeliversAndMarksAccepted(t *testing.T) {
	repo := NewMemoryRepository()
	gateway := &fakeGateway{}
	sender := NewSender(repo, gateway).WithClock(func() time.Time { return notifNow })

	seedNotification(t, repo, "notif-1", KindEmail)
	seedNotification(t, repo, "notif-2", KindSMS)

	event := batchEvent(t, Ref{ID: "notif-1", Kind: KindEmail}, Ref{ID: "notif-2", Kind: KindSMS})
	if err := sender.Handle(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(gateway.emails) != 1 || len(gateway.smss) != 1 {
		t.Fatalf("expected one email and one sms sent, got %d/%d", len(gateway.emails), len(gateway.smss))
	}
	for _, ref := range []Ref{{ID: "notif-1", Kind: KindEmail}, {ID: "notif-2", Kind: KindSMS}} {
		n, err := repo.GetByIDAndKind(context.Background(), ref.ID, ref.Kind)
		if err != nil {
			t.Fatalf("reload %s: %v", ref.ID, err)
		}
		if n.State == nil || n.State.Status != DeliveryAccepted {
			t.Fatalf("expected %s accepted, got %+v", ref.ID, n.State)
		}
		if n.State.ProviderMessage == "" {
			t.Fatal("expected provider message id recorded")
		}
	}
}

func TestSender_SkipsAlreadyAccepted(t *testing.T) {
	repo := NewMemoryRepository()
	gateway := &fakeGateway{}
	sender := NewSender(repo, gateway).WithClock(func() time.Time { return notifNow })

	seedNotification(t, repo, "notif-1", KindEmail)
	if err := repo.MarkDelivery(context.Background(), "notif-1", KindEmail, DeliveryState{
		Status:     DeliveryAccepted,
		OccurredAt: notifNow.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("premark: %v", err)
	}

	event := batchEvent(t, Ref{ID: "notif-1", Kind: KindEmail})
	if err := sender.Handle(context.Background(), event); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(gateway.emails) != 0 {
		t.Fatalf("expected accepted notification skipped, %d sends happened", len(gateway.emails))
	}
}

func TestSender_FailedSendIsRecordedAndReported(t *testing.T) {
	repo := NewMemoryRepository()
	gateway := &fakeGateway{emailErr: errors.New("relay refused")}
	sender := NewSender(repo, gateway).WithClock(func() time.Time { return notifNow })

	seedNotification(t, repo, "notif-1", KindEmail)
	seedNotification(t, repo, "notif-2", KindSMS)

	event := batchEvent(t, Ref{ID: "notif-1", Kind: KindEmail}, Ref{ID: "notif-2", Kind: KindSMS})
	err := sender.Handle(context.Background(), event)
	if err == nil {
		t.Fatal("expected the failed send reported so the dispatcher retries")
	}

	failed, _ := repo.GetByIDAndKind(context.Background(), "notif-1", KindEmail)
	if failed.State == nil || failed.State.Status != DeliveryErrored {
		t.Fatalf("expected errored state, got %+v", failed.State)
	}
	// The SMS of the same batch still went out.
	sent, _ := repo.GetByIDAndKind(context.Background(), "notif-2", KindSMS)
	if sent.State == nil || sent.State.Status != DeliveryAccepted {
		t.Fatalf("expected sms accepted despite email failure, got %+v", sent.State)
	}

	// On retry only the errored notification is sent again.
	gateway.emailErr = nil
	if err := sender.Handle(context.Background(), event); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(gateway.emails) != 1 || len(gateway.smss) != 1 {
		t.Fatalf("expected exactly one send per notification overall, got %d/%d",
			len(gateway.emails), len(gateway.smss))
	}
}

func TestSender_MissingNotification(t *testing.T) {
	repo := NewMemoryRepository()
	sender := NewSender(repo, &fakeGateway{})

	event := batchEvent(t, Ref{ID: "ghost", Kind: KindEmail})
	if err := sender.Handle(context.Background(), event); !errors.Is(err, ErrNotificationNotFound) {
		t.Fatalf("expected ErrNotificationNotFound, got %v", err)
	}
}

func TestSender_RejectsForeignTopic(t *testing.T) {
	repo := NewMemoryRepository()
	sender := NewSender(repo, &fakeGateway{})

	event, err := outbox.NewEvent("event-1", "convention.fully_signed", map[string]string{}, notifNow)
	if err != nil {
		t.Fatalf("build event: %v", err)
	}
	if err := sender.Handle(context.Background(), event); err == nil {
		t.Fatal("expected error for non-notification topic")
	}
}
