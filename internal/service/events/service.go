package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/institutehub/webhook-gateway/internal/model"
	"github.com/institutehub/webhook-gateway/internal/repository"
	"github.com/institutehub/webhook-gateway/internal/util"
)

// EventsKafkaTopic is where outbox rows land (via Debezium) and where
// the events worker consumes from.
const EventsKafkaTopic = "webhooks.events"

// Service accepts domain events for asynchronous fan-out: the event goes
// through the transactional outbox instead of being delivered inline, so
// producers return immediately and the events worker does the fan-out.
type Service struct {
	outbox repository.OutboxRepository
}

func New(outboxRepo repository.OutboxRepository) *Service {
	return &Service{outbox: outboxRepo}
}

// Publish validates the event name, wraps the data in the Kafka message
// envelope, and writes it to the outbox. Returns the generated event ID.
func (s *Service) Publish(ctx context.Context, event string, data json.RawMessage) (string, error) {
	event = strings.TrimSpace(event)
	if event == "" {
		return "", fmt.Errorf("empty event name")
	}
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	id := util.New()

	payload, err := json.Marshal(model.EventMessage{Event: event, Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	if err := s.outbox.Insert(ctx, nil, "event", id, EventsKafkaTopic, payload); err != nil {
		return "", fmt.Errorf("insert outbox: %w", err)
	}
	return id, nil
}
