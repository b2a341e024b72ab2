package convention

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// MemoryRepository is a mutex-guarded in-memory Repository for unit tests.
// Tx arguments are ignored; stored snapshots are cloned on the way in and
// out so tests never share aggregate state by accident.
type MemoryRepository struct {
	mu          sync.Mutex
	conventions map[string]Convention
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{conventions: map[string]Convention{}}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (Convention, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conventions[id]
	if !ok {
		return Convention{}, ErrConventionNotFound
	}
	return conv.clone(), nil
}

func (r *MemoryRepository) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id string) (Convention, error) {
	return r.GetByID(ctx, id)
}

func (r *MemoryRepository) Save(ctx context.Context, conv Convention) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conventions[conv.ID]; ok {
		return ErrDuplicateConvention
	}
	r.conventions[conv.ID] = conv.clone()
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, conv Convention) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conventions[conv.ID]; !ok {
		return ErrConventionNotFound
	}
	r.conventions[conv.ID] = conv.clone()
	return nil
}

func (r *MemoryRepository) UpdateTx(ctx context.Context, _ pgx.Tx, conv Convention) error {
	return r.Update(ctx, conv)
}

func (r *MemoryRepository) DeprecateConventionsEndedSince(ctx context.Context, _ pgx.Tx, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deprecatable := map[Status]bool{
		StatusReadyToSign:          true,
		StatusPartiallySigned:      true,
		StatusInReview:             true,
		StatusAcceptedByCounsellor: true,
	}
	var ids []string
	for id, conv := range r.conventions {
		if !deprecatable[conv.Status] || !conv.DateEnd.Before(cutoff) {
			continue
		}
		justification := "deprecated automatically: end date long passed"
		conv.Status = StatusDeprecated
		conv.StatusJustification = &justification
		r.conventions[id] = conv
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// StaticAssessmentChecker answers from a fixed set of convention ids. Test
// double for the out-of-core assessment domain.
type StaticAssessmentChecker struct {
	ConventionIDs map[string]bool
}

func (c StaticAssessmentChecker) Exists(ctx context.Context, conventionID string) (bool, error) {
	return c.ConventionIDs[conventionID], nil
}
