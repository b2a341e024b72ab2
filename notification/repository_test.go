package notification

import (
	"context"
	"testing"
	"time"
)

func TestMemoryRepository_GetEmailsByFilters(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	save := func(id string, kind Kind, recipient, conventionID string, createdAt time.Time) {
		t.Helper()
		if err := repo.Save(ctx, nil, Notification{
			ID:   id,
			Kind: kind,
			Content: TemplatedContent{
				Template:   "CONVENTION_SIGNATURE_REMINDER",
				Recipients: []string{recipient},
			},
			FollowedIDs: FollowedIDs{ConventionID: conventionID, AgencyID: "agency-1"},
			CreatedAt:   createdAt,
		}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}

	save("n1", KindEmail, "nora@example.com", "conv-1", notifNow)
	save("n2", KindEmail, "NORA@example.com", "conv-1", notifNow.Add(time.Minute))
	save("n3", KindEmail, "paul@establishment.example.com", "conv-2", notifNow)
	save("n4", KindSMS, "+33600000001", "conv-1", notifNow)

	emails, err := repo.GetEmailsByFilters(ctx, EmailFilters{ConventionID: "conv-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Case-insensitive dedup, SMS and other conventions excluded.
	if len(emails) != 1 {
		t.Fatalf("expected one distinct address, got %v", emails)
	}

	emails, err = repo.GetEmailsByFilters(ctx, EmailFilters{AgencyID: "agency-1", CreatedAfter: notifNow})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(emails) != 1 {
		t.Fatalf("expected only addresses written after cutoff, got %v", emails)
	}
}
