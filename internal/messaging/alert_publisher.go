package messaging

import (
	"context"
	"fmt"

	"coinsight/internal/events"
	"coinsight/internal/logger"
)

// AlertPublisher publishes budget alerts to the alert queue. Publishing
// happens after the spend mutation has committed and is best-effort: a
// failure is the caller's to log and swallow, never a reason to retry the
// whole event.
type AlertPublisher struct {
	client *Client
	queue  string
}

// NewAlertPublisher creates an AlertPublisher writing to the given queue.
func NewAlertPublisher(client *Client, queue string) *AlertPublisher {
	return &AlertPublisher{client: client, queue: queue}
}

// PublishAlert sends one budget alert. Exactly one attempt is made.
func (p *AlertPublisher) PublishAlert(ctx context.Context, alert *events.BudgetAlertEvent) error {
	body, err := alert.Encode()
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	if err := p.client.Publish(ctx, p.queue, body); err != nil {
		return err
	}

	logger.Get().Infow("published budget alert",
		"budget_id", alert.BudgetID,
		"alert_type", alert.AlertType,
		"threshold", alert.ThresholdPercentage,
	)
	return nil
}
