// Package events implements the outbox publisher's polling loop and the
// RabbitMQ adapters it and the calculation worker use. The relay here
// is deliberately generic over any event shape that reduces to an id,
// an event type, and a payload, so it is not tied to the parcel domain.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/floroz/parcel-registry/pkg/database"
)

// Event is the minimal shape the relay needs to publish a row and
// remember which ids succeeded.
type Event struct {
	ID        string
	EventType string
	Payload   []byte
}

// OutboxSource is implemented by a domain-specific outbox repository.
// GetPending and MarkApplied both take an explicit pgx.Tx because the
// relay runs them in two separate transactions (see Run below): the
// claim holds FOR UPDATE SKIP LOCKED locks only for the duration of
// the publish loop, and the mark-applied write commits independently
// so a batch that partially fails still records its successes.
type OutboxSource interface {
	GetPending(ctx context.Context, tx pgx.Tx, limit int) ([]Event, error)
	MarkApplied(ctx context.Context, tx pgx.Tx, ids []string) error
}

// EventPublisher is the relay's view of the broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// OutboxRelay polls OutboxSource for unapplied rows and drains them to
// a broker exchange, routing key = event type.
type OutboxRelay struct {
	source    OutboxSource
	publisher EventPublisher
	txManager database.TransactionManager
	batchSize int
	interval  time.Duration
	exchange  string
	logger    *slog.Logger
}

func NewOutboxRelay(
	source OutboxSource,
	publisher EventPublisher,
	txManager database.TransactionManager,
	batchSize int,
	interval time.Duration,
	exchange string,
	logger *slog.Logger,
) *OutboxRelay {
	return &OutboxRelay{
		source:    source,
		publisher: publisher,
		txManager: txManager,
		batchSize: batchSize,
		interval:  interval,
		exchange:  exchange,
		logger:    logger,
	}
}

// Run loops until ctx is cancelled. Each iteration claims a batch,
// tries to publish it in full, and — even on a partial failure — marks
// every id that did succeed applied before sleeping.
func (r *OutboxRelay) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		drained, err := r.processBatch(ctx)
		if err != nil {
			r.logger.Error("outbox relay iteration failed", "error", err)
		}

		sleep := r.interval
		if err != nil {
			sleep = max(r.interval, 5*time.Second)
		} else if !drained {
			sleep = r.interval
		} else {
			// A full batch was drained; poll again immediately rather
			// than idling, there may be more work queued up.
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// processBatch claims up to batchSize unapplied rows, publishes them in
// created_at order, and reports whether the batch was full (a signal
// the caller uses to avoid sleeping when there's likely more work).
func (r *OutboxRelay) processBatch(ctx context.Context) (full bool, err error) {
	claimTx, err := r.txManager.BeginTxWithIsolation(ctx, pgx.ReadCommitted)
	if err != nil {
		return false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = claimTx.Rollback(ctx) }()

	pending, err := r.source.GetPending(ctx, claimTx, r.batchSize)
	if err != nil {
		return false, fmt.Errorf("claim pending events: %w", err)
	}

	if len(pending) == 0 {
		return false, claimTx.Commit(ctx)
	}

	var succeeded []string
	for _, ev := range pending {
		if pubErr := r.publisher.Publish(ctx, r.exchange, ev.EventType, ev.Payload); pubErr != nil {
			r.logger.Warn("publish failed, stopping batch early", "event_id", ev.ID, "error", pubErr)
			break
		}
		succeeded = append(succeeded, ev.ID)
	}

	// Release the row locks regardless of how far the batch got; an
	// unsucceeded row simply remains unapplied for the next iteration.
	if commitErr := claimTx.Commit(ctx); commitErr != nil {
		return false, fmt.Errorf("commit claim tx: %w", commitErr)
	}

	if len(succeeded) == 0 {
		return false, nil
	}

	markTx, err := r.txManager.BeginTxWithIsolation(ctx, pgx.ReadCommitted)
	if err != nil {
		return false, fmt.Errorf("begin mark-applied tx: %w", err)
	}
	defer func() { _ = markTx.Rollback(ctx) }()

	if err := r.source.MarkApplied(ctx, markTx, succeeded); err != nil {
		return false, fmt.Errorf("mark applied: %w", err)
	}

	if err := markTx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit mark-applied tx: %w", err)
	}

	r.logger.Info("published outbox batch", "published", len(succeeded), "claimed", len(pending))
	return len(succeeded) == r.batchSize, nil
}
