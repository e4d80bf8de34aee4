package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"zenmgt/internal/platform/metrics"
)

const defaultBatchSize = 100

// outboxRow mirrors the outbox table written inside business transactions.
type outboxRow struct {
	ID            string    `db:"id"`
	AggregateType string    `db:"aggregate_type"`
	AggregateID   string    `db:"aggregate_id"`
	EventType     string    `db:"event_type"`
	Payload       []byte    `db:"payload"`
	CreatedAt     time.Time `db:"created_at"`
}

// Relay drains the outbox to Kafka. Rows are claimed with SKIP LOCKED so
// multiple instances can run against the same database without duplicating
// work, and deleted only after a successful produce.
type Relay struct {
	db        *sqlx.DB
	publisher Publisher
	topic     string
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func NewRelay(db *sqlx.DB, publisher Publisher, topic string, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		db:        db,
		publisher: publisher,
		topic:     topic,
		interval:  interval,
		batchSize: defaultBatchSize,
		logger:    logger,
		metrics:   m,
	}
}

// Run polls until the context is cancelled. It always returns ctx.Err().
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "topic", r.topic, "interval", r.interval.String())
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.metrics.IncOutboxError()
				r.logger.Error("outbox drain failed", "error", err)
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	for {
		n, err := r.drainBatch(ctx)
		if err != nil || n < r.batchSize {
			return err
		}
	}
}

func (r *Relay) drainBatch(ctx context.Context) (int, error) {
	txx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer txx.Rollback()

	var rows []outboxRow
	err = txx.SelectContext(ctx, &rows, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload, created_at
		FROM outbox
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`,
		r.batchSize,
	)
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	published := make([]string, 0, len(rows))
	for _, row := range rows {
		if err := r.publisher.Publish(ctx, r.topic, []byte(row.AggregateID), row.Payload); err != nil {
			// Leave unpublished rows locked until rollback; the next tick
			// retries them.
			break
		}
		published = append(published, row.ID)
		r.metrics.IncOutboxPublished()
	}
	if len(published) == 0 {
		return 0, fmt.Errorf("publish outbox batch: no rows delivered")
	}

	if _, err := txx.ExecContext(ctx, `DELETE FROM outbox WHERE id = ANY($1)`, pq.Array(published)); err != nil {
		return 0, fmt.Errorf("delete published outbox rows: %w", err)
	}
	if err := txx.Commit(); err != nil {
		return 0, fmt.Errorf("commit outbox drain: %w", err)
	}

	if len(published) < len(rows) {
		return len(published), fmt.Errorf("publish outbox batch: %d of %d rows delivered", len(published), len(rows))
	}
	return len(published), nil
}
