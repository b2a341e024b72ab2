package outbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status tracks where an event sits in the publish cycle.
type Status string

const (
	StatusNeverPublished     Status = "never-published"
	StatusInProcess          Status = "in-process"
	StatusPublished          Status = "published"
	StatusFailedButWillRetry Status = "failed-but-will-retry"
)

// MaxPublicationAttempts is the number of failed publications after which an
// event is quarantined and excluded from dispatch until a manual replay.
const MaxPublicationAttempts = 3

// InProcessLease is how long a claimed event stays invisible to other cycles.
// A cycle that dies before recording its result releases the claim once the
// lease expires, so the event is reselected instead of stranded.
const InProcessLease = 5 * time.Minute

// FailureRecord captures one subscriber failing during a publication attempt.
type FailureRecord struct {
	Subscriber string `json:"subscriber"`
	Message    string `json:"message"`
}

// Publication is one dispatch attempt over all subscribers of the topic.
type Publication struct {
	AttemptedAt time.Time       `json:"attemptedAt"`
	Failures    []FailureRecord `json:"failures,omitempty"`
}

func (p Publication) Failed() bool {
	return len(p.Failures) > 0
}

// DomainEvent is an append-only outbox row. Events are written in the same
// transaction as the aggregate mutation that caused them and are never
// deleted; the publications ledger forms the audit log.
type DomainEvent struct {
	ID             string
	Topic          string
	Payload        []byte
	OccurredAt     time.Time
	Publications   []Publication
	WasQuarantined bool
	Status         Status
	InProcessSince *time.Time
}

// NewEvent builds a never-published event with a JSON-encoded payload.
func NewEvent(id, topic string, payload any, occurredAt time.Time) (DomainEvent, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return DomainEvent{}, fmt.Errorf("outbox: marshal payload for %s: %w", topic, err)
	}
	return DomainEvent{
		ID:         id,
		Topic:      topic,
		Payload:    body,
		OccurredAt: occurredAt.UTC(),
		Status:     StatusNeverPublished,
	}, nil
}

// UnmarshalPayload decodes the event payload into dst.
func (e DomainEvent) UnmarshalPayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("outbox: decode payload of event %s (%s): %w", e.ID, e.Topic, err)
	}
	return nil
}

// LastPublicationFailed reports whether the most recent attempt failed.
func (e DomainEvent) LastPublicationFailed() bool {
	if len(e.Publications) == 0 {
		return false
	}
	return e.Publications[len(e.Publications)-1].Failed()
}
