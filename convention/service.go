package convention

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"immersion/agency"
	"immersion/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AgencyGetter is the slice of the agency directory the service needs.
type AgencyGetter interface {
	GetByID(ctx context.Context, id string) (agency.Agency, error)
}

// EventWriter appends a domain event inside the caller's transaction.
type EventWriter interface {
	Save(ctx context.Context, tx pgx.Tx, event outbox.DomainEvent) error
}

// Service applies lifecycle transitions. The convention mutation and its
// event are committed in one transaction: both land or neither does.
type Service struct {
	pool        TxBeginner
	repo        Repository
	agencies    AgencyGetter
	events      EventWriter
	assessments AssessmentChecker
	idGen       func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, repo Repository, agencies AgencyGetter, events EventWriter, assessments AssessmentChecker) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		agencies:    agencies,
		events:      events,
		assessments: assessments,
		idGen:       func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGen = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// TransitionRequest is one actor-driven status change.
type TransitionRequest struct {
	ConventionID  string
	Target        Status
	Actor         Actor
	Justification string
}

// Transition loads the convention under a row lock, resolves the actor's
// roles against the agency configuration, asks the lifecycle engine for a
// decision, and persists the updated snapshot together with its single
// event. Any failure rolls the whole transaction back.
func (s *Service) Transition(ctx context.Context, req TransitionRequest) (Convention, error) {
	if req.ConventionID == "" {
		return Convention{}, fmt.Errorf("convention: missing convention id")
	}
	if req.Actor == nil {
		return Convention{}, fmt.Errorf("convention: missing actor")
	}
	if link, ok := req.Actor.(MagicLinkActor); ok && link.ConventionID != "" && link.ConventionID != req.ConventionID {
		return Convention{}, ErrMagicLinkConventionMismatch
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	conv, err := s.repo.GetByIDForUpdate(ctx, tx, req.ConventionID)
	if err != nil {
		return Convention{}, err
	}

	cfg, err := s.agencies.GetByID(ctx, conv.AgencyID)
	if err != nil {
		return Convention{}, err
	}

	roles, err := ResolveActorRoles(req.Actor, conv, cfg)
	if err != nil {
		return Convention{}, err
	}

	hasAssessment := false
	if req.Target == StatusCancelled {
		if hasAssessment, err = s.assessments.Exists(ctx, conv.ID); err != nil {
			return Convention{}, err
		}
	}

	decision, err := DecideTransition(conv, req.Target, TransitionInput{
		Roles:             roles,
		ActorName:         actorName(req.Actor),
		TwoStepValidation: cfg.TwoStepValidation(),
		Justification:     req.Justification,
		HasAssessment:     hasAssessment,
		Now:               s.now(),
	})
	if err != nil {
		return Convention{}, err
	}

	if err := s.repo.UpdateTx(ctx, tx, decision.Updated); err != nil {
		return Convention{}, err
	}

	event, err := outbox.NewEvent(s.idGen(), decision.Topic, EventPayload{
		ConventionID:       conv.ID,
		AgencyID:           conv.AgencyID,
		EstablishmentSiret: conv.EstablishmentSiret,
		PreviousStatus:     conv.Status,
		NextStatus:         decision.Updated.Status,
		Justification:      req.Justification,
	}, decision.Updated.UpdatedAt)
	if err != nil {
		return Convention{}, err
	}
	if err := s.events.Save(ctx, tx, event); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit transition: %w", err)
	}
	return decision.Updated, nil
}

func actorName(actor Actor) string {
	switch a := actor.(type) {
	case MagicLinkActor:
		return a.Name
	case AuthenticatedActor:
		return a.User.DisplayName()
	default:
		return ""
	}
}
