package notification

import "time"

// Kind discriminates delivery channels. Together with the id it forms the
// join key between a stored notification and the outbox event referencing it.
type Kind string

const (
	KindEmail Kind = "email"
	KindSMS   Kind = "sms"
)

// TemplatedContent carries the template name and parameters the (out-of-core)
// rendering layer needs, plus the resolved recipients.
type TemplatedContent struct {
	Template   string            `json:"template"`
	Recipients []string          `json:"recipients"`
	CC         []string          `json:"cc,omitempty"`
	Params     map[string]string `json:"params,omitempty"`
}

// FollowedIDs are correlation ids attached to a notification for later
// querying and retention jobs.
type FollowedIDs struct {
	ConventionID       string `json:"conventionId,omitempty"`
	AgencyID           string `json:"agencyId,omitempty"`
	EstablishmentSiret string `json:"establishmentSiret,omitempty"`
	UserID             string `json:"userId,omitempty"`
}

// Delivery outcome statuses once a send was attempted.
const (
	DeliveryAccepted = "accepted"
	DeliveryErrored  = "errored"
)

// DeliveryState records the provider's answer to a send attempt.
type DeliveryState struct {
	Status          string    `json:"status"`
	ProviderMessage string    `json:"providerMessage,omitempty"`
	OccurredAt      time.Time `json:"occurredAt"`
}

// Notification is one persisted email or SMS. Created by the materializer,
// mutated only to attach the delivery state.
type Notification struct {
	ID          string
	Kind        Kind
	Content     TemplatedContent
	FollowedIDs FollowedIDs
	CreatedAt   time.Time
	State       *DeliveryState
}

// Outbox topics joining notifications to their creating event.
const (
	TopicAdded      = "notification.added"
	TopicBatchAdded = "notification.batch_added"
)

// Ref is the {id, kind} join key as it appears in event payloads.
type Ref struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// AddedPayload is the payload of TopicAdded.
type AddedPayload struct {
	Ref
}

// BatchAddedPayload is the payload of TopicBatchAdded: one entry per
// notification created in the batch.
type BatchAddedPayload struct {
	Notifications []Ref `json:"notifications"`
}
