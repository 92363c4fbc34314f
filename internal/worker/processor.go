// Package worker wires the message transport to the budget tracker. One
// sequential consumption loop runs per queue; loops run concurrently with
// each other but a loop never interleaves two of its own messages.
package worker

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"coinsight/internal/config"
	"coinsight/internal/events"
	"coinsight/internal/logger"
	"coinsight/internal/messaging"
	"coinsight/internal/services"
)

// Consumer is the transport-side contract the processor consumes from.
// Satisfied by *messaging.Client.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler messaging.Handler) error
}

// Processor runs the transaction-event consumption loops and the periodic
// ledger pruning.
type Processor struct {
	consumer Consumer
	tracker  services.TrackerServicer
	ledger   services.LedgerServicer
	cfg      *config.Config
}

// NewProcessor creates a Processor.
func NewProcessor(consumer Consumer, tracker services.TrackerServicer, ledger services.LedgerServicer, cfg *config.Config) *Processor {
	return &Processor{
		consumer: consumer,
		tracker:  tracker,
		ledger:   ledger,
		cfg:      cfg,
	}
}

// Run blocks until ctx is cancelled or a loop fails terminally.
func (p *Processor) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return p.consumer.Consume(ctx, p.cfg.TransactionQueue, p.HandleCreatedDelivery)
	})
	g.Go(func() error {
		return p.consumer.Consume(ctx, p.cfg.TransactionDeleteQueue, p.HandleDeletedDelivery)
	})
	g.Go(func() error {
		return p.runLedgerPruning(ctx)
	})

	return g.Wait()
}

// HandleCreatedDelivery decodes and applies one transaction-created message.
// Malformed payloads are rejected for dead-lettering; anything else that
// fails is requeued for redelivery.
func (p *Processor) HandleCreatedDelivery(ctx context.Context, d messaging.Delivery) error {
	ev, err := events.DecodeCreated(d.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrReject, err)
	}

	logger.Get().Infow("processing transaction for budget check",
		"transaction_id", ev.ID, "partition", d.Partition, "offset", d.Offset)

	return p.tracker.HandleTransactionCreated(ctx, ev, d.Partition, d.Offset)
}

// HandleDeletedDelivery decodes and applies one transaction-deleted message.
func (p *Processor) HandleDeletedDelivery(ctx context.Context, d messaging.Delivery) error {
	ev, err := events.DecodeDeleted(d.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrReject, err)
	}

	logger.Get().Infow("processing transaction deletion for budget reversal",
		"transaction_id", ev.TransactionID, "partition", d.Partition, "offset", d.Offset)

	return p.tracker.HandleTransactionDeleted(ctx, ev, d.Partition, d.Offset)
}

// runLedgerPruning deletes processed-event rows past the retention window on
// a fixed interval. Pruning is maintenance, not consistency-critical, so a
// failed pass just logs and waits for the next tick.
func (p *Processor) runLedgerPruning(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.LedgerPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := p.ledger.Prune(ctx, p.cfg.LedgerRetention); err != nil {
				logger.Get().Errorw("ledger pruning failed", "error", err)
			}
		}
	}
}
