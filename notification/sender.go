package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"immersion/outbox"
)

// Gateway is the provider-facing side of delivery (SMTP/SMS relays),
// implemented outside this core. It returns the provider's message id.
// Delivery is at-least-once: recipients must tolerate replays.
type Gateway interface {
	SendEmail(ctx context.Context, n Notification) (string, error)
	SendSMS(ctx context.Context, n Notification) (string, error)
}

// Sender is the outbox subscriber for notification topics: it loads each
// referenced notification, pushes it through the gateway and records the
// provider outcome. Already-accepted notifications are skipped on replay.
type Sender struct {
	notifications Repository
	gateway       Gateway
	now           func() time.Time
}

func NewSender(notifications Repository, gateway Gateway) *Sender {
	return &Sender{
		notifications: notifications,
		gateway:       gateway,
		now:           time.Now,
	}
}

func (s *Sender) WithClock(now func() time.Time) *Sender {
	s.now = now
	return s
}

// Handle delivers every notification the event references. A failing send is
// recorded on the notification and reported back so the dispatcher retries
// the event.
func (s *Sender) Handle(ctx context.Context, event outbox.DomainEvent) error {
	refs, err := eventRefs(event)
	if err != nil {
		return err
	}

	var errs []error
	for _, ref := range refs {
		if err := s.deliver(ctx, ref); err != nil {
			errs = append(errs, fmt.Errorf("notification %s/%s: %w", ref.ID, ref.Kind, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Sender) deliver(ctx context.Context, ref Ref) error {
	n, err := s.notifications.GetByIDAndKind(ctx, ref.ID, ref.Kind)
	if err != nil {
		return err
	}
	if n.State != nil && n.State.Status == DeliveryAccepted {
		return nil
	}

	var providerMessage string
	switch n.Kind {
	case KindEmail:
		providerMessage, err = s.gateway.SendEmail(ctx, n)
	case KindSMS:
		providerMessage, err = s.gateway.SendSMS(ctx, n)
	default:
		return fmt.Errorf("unknown kind %q", n.Kind)
	}

	state := DeliveryState{
		Status:          DeliveryAccepted,
		ProviderMessage: providerMessage,
		OccurredAt:      s.now().UTC(),
	}
	if err != nil {
		state.Status = DeliveryErrored
		state.ProviderMessage = err.Error()
	}
	if markErr := s.notifications.MarkDelivery(ctx, n.ID, n.Kind, state); markErr != nil {
		return markErr
	}
	return err
}

func eventRefs(event outbox.DomainEvent) ([]Ref, error) {
	switch event.Topic {
	case TopicAdded:
		var payload AddedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return nil, err
		}
		return []Ref{payload.Ref}, nil
	case TopicBatchAdded:
		var payload BatchAddedPayload
		if err := event.UnmarshalPayload(&payload); err != nil {
			return nil, err
		}
		return payload.Notifications, nil
	default:
		return nil, fmt.Errorf("notification: no delivery for topic %s", event.Topic)
	}
}
