package app

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/coursiva/auth-service/pkg/rabbitmq"
)

const (
	securityExchange = "security_events"
	publishTimeout   = 5 * time.Second
)

// SecurityEventDispatcher publishes security events (lockouts, 2FA changes,
// password changes) to the notification pipeline. Dispatch is fire-and-forget:
// it returns immediately, and a failed publish is logged and dropped rather
// than failing the security operation that triggered it.
type SecurityEventDispatcher struct {
	producer rabbitmq.Publisher
}

func NewSecurityEventDispatcher(producer rabbitmq.Publisher) *SecurityEventDispatcher {
	return &SecurityEventDispatcher{producer: producer}
}

// eventEnvelope wraps every published payload. The event ID lets consumers
// deduplicate redelivered messages.
type eventEnvelope struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Dispatch publishes the event asynchronously using eventType as the routing
// key (e.g. "account.locked").
func (d *SecurityEventDispatcher) Dispatch(eventType string, payload any) {
	if d == nil || d.producer == nil {
		log.Printf("No event producer configured, dropping %s event", eventType)
		return
	}

	envelope := eventEnvelope{
		EventID:    uuid.NewString(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := d.producer.Publish(ctx, securityExchange, eventType, envelope); err != nil {
			log.Printf("Failed to publish %s event: %v", eventType, err)
		}
	}()
}
