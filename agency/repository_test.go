package agency

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRepository_GetByIDs(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Put(activeAgency("agency-1", closureNow))
	repo.Put(activeAgency("agency-2", closureNow))

	agencies, err := repo.GetByIDs(context.Background(), []string{"agency-1", "agency-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(agencies) != 2 {
		t.Fatalf("expected 2 agencies, got %d", len(agencies))
	}

	_, err = repo.GetByIDs(context.Background(), []string{"agency-1", "agency-ghost"})
	var missing MissingAgenciesError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingAgenciesError, got %v", err)
	}
	if len(missing.IDs) != 1 || missing.IDs[0] != "agency-ghost" {
		t.Fatalf("expected agency-ghost reported missing, got %v", missing.IDs)
	}
}

func TestMemoryRepository_GetByRefersToAgencyID(t *testing.T) {
	repo := NewMemoryRepository()
	parent := activeAgency("agency-parent", closureNow)
	repo.Put(parent)
	child := activeAgency("agency-child", closureNow)
	child.RefersToAgencyID = &parent.ID
	repo.Put(child)
	repo.Put(activeAgency("agency-unrelated", closureNow))

	children, err := repo.GetByRefersToAgencyID(context.Background(), "agency-parent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(children) != 1 || children[0].ID != "agency-child" {
		t.Fatalf("expected only the referring agency, got %v", children)
	}
}
