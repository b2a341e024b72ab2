package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"immersion/agency"
	"immersion/auth"
	"immersion/convention"
	"immersion/db"
	"immersion/notification"
	"immersion/outbox"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	conventions := convention.NewPGRepository(pool)
	agencies := agency.NewPGRepository(pool)
	users := auth.NewPGRepository(pool)
	events := outbox.NewPGRepository(pool)
	notifications := notification.NewPGRepository(pool)

	materializer := notification.NewMaterializer(pool, conventions, agencies, users, notifications, events)
	sender := notification.NewSender(notifications, logGateway{})

	dispatcher := outbox.NewDispatcher(events, envInt("DISPATCH_WORKERS", 4), envInt("DISPATCH_BATCH", 50))
	for _, topic := range []string{
		convention.TopicPartiallySigned,
		convention.TopicRequiresModification,
		convention.TopicFullySigned,
		convention.TopicAcceptedByCounsellor,
		convention.TopicAcceptedByValidator,
		convention.TopicRejected,
		convention.TopicCancelled,
		convention.TopicDeprecated,
		agency.TopicClosedForInactivity,
		auth.TopicInactivityWarning,
	} {
		dispatcher.Subscribe(topic, "notification-materializer", materializer.Handle)
	}
	dispatcher.Subscribe(notification.TopicAdded, "notification-sender", sender.Handle)
	dispatcher.Subscribe(notification.TopicBatchAdded, "notification-sender", sender.Handle)

	deprecations := convention.NewDeprecationSweep(pool, conventions, events)
	closures := agency.NewClosureSweep(pool, agencies, events)
	warnings := auth.NewInactivityWarningSweep(pool, users, events)

	go runSweeps(ctx, 24*time.Hour, deprecations.Run, closures.Run, warnings.Run)
	go reportOutboxHealth(ctx, events, time.Duration(envInt("OUTBOX_REPORT_INTERVAL_MS", 60000))*time.Millisecond)

	log.Printf("outbox worker starting")
	if err := dispatcher.Run(ctx, time.Duration(envInt("DISPATCH_INTERVAL_MS", 2000))*time.Millisecond); err != nil && ctx.Err() == nil {
		log.Fatalf("dispatcher stopped: %v", err)
	}
}

func runSweeps(ctx context.Context, interval time.Duration, sweeps ...func(context.Context) ([]string, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sweep := range sweeps {
				ids, err := sweep(ctx)
				if err != nil {
					log.Printf("housekeeping sweep: %v", err)
					continue
				}
				if len(ids) > 0 {
					log.Printf("housekeeping sweep affected %d entities", len(ids))
				}
			}
		}
	}
}

// reportOutboxHealth periodically logs the backlog and the events a human
// needs to replay.
func reportOutboxHealth(ctx context.Context, events *outbox.PGRepository, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending, err := events.CountAllEvents(ctx, outbox.StatusNeverPublished)
			if err != nil {
				log.Printf("outbox health: %v", err)
				continue
			}
			failed, err := events.GetFailedEvents(ctx)
			if err != nil {
				log.Printf("outbox health: %v", err)
				continue
			}
			quarantined := 0
			for _, ev := range failed {
				if ev.WasQuarantined {
					quarantined++
				}
			}
			if pending > 0 || len(failed) > 0 {
				log.Printf("outbox health: pending=%d failing=%d quarantined=%d", pending, len(failed), quarantined)
			}
		}
	}
}

// logGateway stands in for the external email/SMS provider until one is
// wired; it accepts everything.
type logGateway struct{}

func (logGateway) SendEmail(ctx context.Context, n notification.Notification) (string, error) {
	log.Printf("send email %s template=%s to=%d recipients", n.ID, n.Content.Template, len(n.Content.Recipients))
	return "log-" + n.ID, nil
}

func (logGateway) SendSMS(ctx context.Context, n notification.Notification) (string, error) {
	log.Printf("send sms %s template=%s", n.ID, n.Content.Template)
	return "log-" + n.ID, nil
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return v
}
