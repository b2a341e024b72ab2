package notification

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"immersion/agency"
	"immersion/auth"
	"immersion/convention"
	"immersion/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventWriter appends a domain event inside the caller's transaction.
type EventWriter interface {
	Save(ctx context.Context, tx pgx.Tx, event outbox.DomainEvent) error
}

// ConventionGetter is the slice of the convention store the materializer needs.
type ConventionGetter interface {
	GetByID(ctx context.Context, id string) (convention.Convention, error)
}

// AgencyGetter is the slice of the agency directory the materializer needs.
type AgencyGetter interface {
	GetByID(ctx context.Context, id string) (agency.Agency, error)
	GetByIDs(ctx context.Context, ids []string) ([]agency.Agency, error)
}

// UserGetter is the slice of the user directory the materializer needs.
type UserGetter interface {
	GetUsersByIDs(ctx context.Context, userIDs []string) ([]auth.User, error)
}

// Materializer turns a committed domain event into persisted notification
// records plus the single outbox event joining them. The follow-up event id
// is derived from the triggering event id, so re-materializing after a
// failed publication can never produce a second disjoint notification set.
type Materializer struct {
	pool          TxBeginner
	conventions   ConventionGetter
	agencies      AgencyGetter
	users         UserGetter
	notifications Repository
	events        EventWriter
	idGen         func() string
	now           func() time.Time
}

func NewMaterializer(pool TxBeginner, conventions ConventionGetter, agencies AgencyGetter, users UserGetter, notifications Repository, events EventWriter) *Materializer {
	return &Materializer{
		pool:          pool,
		conventions:   conventions,
		agencies:      agencies,
		users:         users,
		notifications: notifications,
		events:        events,
		idGen:         func() string { return uuid.NewString() },
		now:           time.Now,
	}
}

func (m *Materializer) WithIDGenerator(gen func() string) *Materializer {
	m.idGen = gen
	return m
}

func (m *Materializer) WithClock(now func() time.Time) *Materializer {
	m.now = now
	return m
}

// Handle is the outbox subscriber entry point.
func (m *Materializer) Handle(ctx context.Context, event outbox.DomainEvent) error {
	switch event.Topic {
	case convention.TopicPartiallySigned,
		convention.TopicRequiresModification,
		convention.TopicFullySigned,
		convention.TopicAcceptedByCounsellor,
		convention.TopicAcceptedByValidator,
		convention.TopicRejected,
		convention.TopicCancelled:
		return m.materializeConventionEvent(ctx, event)
	case convention.TopicDeprecated:
		return m.materializeDeprecation(ctx, event)
	case agency.TopicClosedForInactivity:
		return m.materializeAgencyClosure(ctx, event)
	case auth.TopicInactivityWarning:
		return m.materializeInactivityWarning(ctx, event)
	default:
		return fmt.Errorf("notification: no materialization for topic %s", event.Topic)
	}
}

var conventionTemplates = map[string]string{
	convention.TopicPartiallySigned:      "CONVENTION_SIGNATURE_REMINDER",
	convention.TopicRequiresModification: "CONVENTION_MODIFICATION_REQUESTED",
	convention.TopicFullySigned:          "CONVENTION_FULLY_SIGNED_REVIEW",
	convention.TopicAcceptedByCounsellor: "CONVENTION_ACCEPTED_BY_COUNSELLOR",
	convention.TopicAcceptedByValidator:  "CONVENTION_ACCEPTED_BY_VALIDATOR",
	convention.TopicRejected:             "CONVENTION_REJECTED",
	convention.TopicCancelled:            "CONVENTION_CANCELLED",
}

func (m *Materializer) materializeConventionEvent(ctx context.Context, event outbox.DomainEvent) error {
	var payload convention.EventPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	conv, err := m.conventions.GetByID(ctx, payload.ConventionID)
	if err != nil {
		return err
	}
	cfg, err := m.agencies.GetByID(ctx, conv.AgencyID)
	if err != nil {
		return err
	}

	template := conventionTemplates[event.Topic]
	params := map[string]string{
		"conventionId":    conv.ID,
		"beneficiaryName": conv.Signatories.Beneficiary.DisplayName(),
		"agencyName":      cfg.Name,
	}
	if payload.Justification != "" {
		params["justification"] = payload.Justification
	}
	followed := FollowedIDs{
		ConventionID:       conv.ID,
		AgencyID:           conv.AgencyID,
		EstablishmentSiret: conv.EstablishmentSiret,
	}

	var notifs []Notification
	switch event.Topic {
	case convention.TopicPartiallySigned:
		for _, email := range dedupEmails(unsignedSignatoryEmails(conv)) {
			notifs = append(notifs, m.email(template, email, params, followed))
		}
		// The beneficiary also gets an SMS nudge when reachable by phone.
		if b := conv.Signatories.Beneficiary; !b.Signed() && b.Phone != "" {
			notifs = append(notifs, m.sms(template, b.Phone, params, followed))
		}
	case convention.TopicRequiresModification:
		for _, email := range dedupEmails(signatoryEmails(conv)) {
			notifs = append(notifs, m.email(template, email, params, followed))
		}
	default:
		agencySide, err := m.agencyRecipientEmails(ctx, conv, cfg)
		if err != nil {
			return err
		}
		recipients := append(signatoryEmails(conv), conv.EstablishmentTutor.Email)
		recipients = append(recipients, agencySide...)
		for _, email := range dedupEmails(recipients) {
			notifs = append(notifs, m.email(template, email, params, followed))
		}
	}

	return m.persist(ctx, event, notifs)
}

func (m *Materializer) materializeDeprecation(ctx context.Context, event outbox.DomainEvent) error {
	var payload convention.DeprecationPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}

	// The sweep batches a run's conventions into one event; each convention's
	// signatories are told their agreement lapsed. Dedup applies within one
	// convention only.
	var notifs []Notification
	for _, id := range payload.ConventionIDs {
		conv, err := m.conventions.GetByID(ctx, id)
		if err != nil {
			return err
		}
		params := map[string]string{
			"conventionId":    conv.ID,
			"beneficiaryName": conv.Signatories.Beneficiary.DisplayName(),
		}
		followed := FollowedIDs{
			ConventionID:       conv.ID,
			AgencyID:           conv.AgencyID,
			EstablishmentSiret: conv.EstablishmentSiret,
		}
		for _, email := range dedupEmails(signatoryEmails(conv)) {
			notifs = append(notifs, m.email("CONVENTION_DEPRECATED", email, params, followed))
		}
	}

	return m.persist(ctx, event, notifs)
}

func (m *Materializer) materializeAgencyClosure(ctx context.Context, event outbox.DomainEvent) error {
	var payload agency.ClosurePayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	agencies, err := m.agencies.GetByIDs(ctx, payload.AgencyIDs)
	if err != nil {
		return err
	}

	// One email per (admin, agency) pair: an admin managing two closed
	// agencies is told about each. Dedup applies within one agency only.
	var notifs []Notification
	for _, ag := range agencies {
		adminIDs := ag.UserIDsWithRole(agency.RoleAdmin)
		sort.Strings(adminIDs)
		if len(adminIDs) == 0 {
			continue
		}
		admins, err := m.users.GetUsersByIDs(ctx, adminIDs)
		if err != nil {
			return err
		}
		seen := map[string]bool{}
		for _, admin := range admins {
			lower := strings.ToLower(admin.Email)
			if seen[lower] {
				continue
			}
			seen[lower] = true
			notifs = append(notifs, m.email("AGENCY_CLOSED_FOR_INACTIVITY", admin.Email,
				map[string]string{"agencyName": ag.Name},
				FollowedIDs{AgencyID: ag.ID, UserID: admin.ID}))
		}
	}

	return m.persist(ctx, event, notifs)
}

func (m *Materializer) materializeInactivityWarning(ctx context.Context, event outbox.DomainEvent) error {
	var payload auth.InactivityPayload
	if err := event.UnmarshalPayload(&payload); err != nil {
		return err
	}
	users, err := m.users.GetUsersByIDs(ctx, payload.UserIDs)
	if err != nil {
		return err
	}

	var notifs []Notification
	seen := map[string]bool{}
	for _, user := range users {
		lower := strings.ToLower(user.Email)
		if seen[lower] {
			continue
		}
		seen[lower] = true
		notifs = append(notifs, m.email("USER_INACTIVITY_WARNING", user.Email,
			map[string]string{"firstName": user.FirstName},
			FollowedIDs{UserID: user.ID}))
	}

	return m.persist(ctx, event, notifs)
}

// agencyRecipientEmails resolves the agency side of a convention
// notification. A federated-identity advisor takes priority over the generic
// counsellor/validator recipients for that one notification.
func (m *Materializer) agencyRecipientEmails(ctx context.Context, conv convention.Convention, cfg agency.Agency) ([]string, error) {
	if conv.FederatedAdvisorEmail != nil && *conv.FederatedAdvisorEmail != "" {
		return []string{*conv.FederatedAdvisorEmail}, nil
	}
	ids := cfg.NotifiedUserIDsWithRoles(agency.RoleCounsellor, agency.RoleValidator)
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	users, err := m.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	emails := make([]string, len(users))
	for i, u := range users {
		emails[i] = u.Email
	}
	return emails, nil
}

// persist writes the notifications and their single joining event in one
// transaction. A duplicate follow-up event means the triggering event was
// already materialized; the transaction is abandoned and nothing changes.
func (m *Materializer) persist(ctx context.Context, trigger outbox.DomainEvent, notifs []Notification) error {
	if len(notifs) == 0 {
		return nil
	}

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("notification: begin materialize tx: %w", err)
	}
	defer tx.Rollback(ctx)

	refs := make([]Ref, len(notifs))
	for i, n := range notifs {
		refs[i] = Ref{ID: n.ID, Kind: n.Kind}
	}

	var (
		topic   string
		payload any
	)
	if len(notifs) == 1 {
		topic = TopicAdded
		payload = AddedPayload{Ref: refs[0]}
	} else {
		topic = TopicBatchAdded
		payload = BatchAddedPayload{Notifications: refs}
	}

	event, err := outbox.NewEvent(FollowUpEventID(trigger.ID), topic, payload, m.now())
	if err != nil {
		return err
	}
	if err := m.events.Save(ctx, tx, event); err != nil {
		if errors.Is(err, outbox.ErrDuplicateEvent) {
			return nil
		}
		return err
	}

	if err := m.notifications.SaveBatch(ctx, tx, notifs); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("notification: commit materialize tx: %w", err)
	}
	return nil
}

// FollowUpEventID derives the deterministic id of the notification event
// created for a triggering event.
func FollowUpEventID(triggerID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("immersion/notifications/"+triggerID)).String()
}

func (m *Materializer) email(template, recipient string, params map[string]string, followed FollowedIDs) Notification {
	return Notification{
		ID:   m.idGen(),
		Kind: KindEmail,
		Content: TemplatedContent{
			Template:   template,
			Recipients: []string{recipient},
			Params:     params,
		},
		FollowedIDs: followed,
		CreatedAt:   m.now().UTC(),
	}
}

func (m *Materializer) sms(template, phone string, params map[string]string, followed FollowedIDs) Notification {
	return Notification{
		ID:   m.idGen(),
		Kind: KindSMS,
		Content: TemplatedContent{
			Template:   template + "_SMS",
			Recipients: []string{phone},
			Params:     params,
		},
		FollowedIDs: followed,
		CreatedAt:   m.now().UTC(),
	}
}

func signatoryEmails(conv convention.Convention) []string {
	emails := []string{
		conv.Signatories.Beneficiary.Email,
		conv.Signatories.EstablishmentRepresentative.Email,
	}
	if rep := conv.Signatories.BeneficiaryRepresentative; rep != nil {
		emails = append(emails, rep.Email)
	}
	if emp := conv.Signatories.BeneficiaryCurrentEmployer; emp != nil {
		emails = append(emails, emp.Email)
	}
	return emails
}

func unsignedSignatoryEmails(conv convention.Convention) []string {
	var emails []string
	for _, role := range convention.SignatoryRoles {
		if s := conv.Signatories.ByRole(role); s != nil && !s.Signed() {
			emails = append(emails, s.Email)
		}
	}
	return emails
}

// dedupEmails drops duplicate addresses case-insensitively, keeping first
// occurrence order and skipping empties.
func dedupEmails(emails []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, email := range emails {
		lower := strings.ToLower(strings.TrimSpace(email))
		if lower == "" || seen[lower] {
			continue
		}
		seen[lower] = true
		out = append(out, email)
	}
	return out
}
