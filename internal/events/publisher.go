package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/notesgen/notesgen-be/internal/bulk"
	"github.com/notesgen/notesgen-be/shared/rabbitmq"
)

// Publisher forwards bulk job lifecycle events to RabbitMQ so other services
// (notifications, analytics) can react without polling the API.
type Publisher struct {
	logger *slog.Logger
	client *rabbitmq.Client
}

// NewPublisher creates a publisher on top of the shared RabbitMQ client.
func NewPublisher(logger *slog.Logger, client *rabbitmq.Client) *Publisher {
	return &Publisher{
		logger: logger,
		client: client,
	}
}

// PublishJobEvent publishes one lifecycle event as a JSON message.
func (p *Publisher) PublishJobEvent(ctx context.Context, event bulk.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal job event: %w", err)
	}

	if err := p.client.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish job event: %w", err)
	}

	p.logger.Debug("Job event published",
		slog.String("type", event.Type),
		slog.String("job_id", event.JobID),
		slog.String("status", event.Status),
	)
	return nil
}
