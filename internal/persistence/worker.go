package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/observability"

	"github.com/rs/zerolog"
)

// batch accumulates the rows of several core outputs.
type batch struct {
	outputs       []core.CoreOutput
	events        []EventRow
	journals      []JournalRow
	notifications []NotificationRow
}

func (b *batch) add(out core.CoreOutput) error {
	notes, err := NotificationRowsFrom(out.Envelope.Sequence, out.Notifications)
	if err != nil {
		return err
	}
	b.outputs = append(b.outputs, out)
	b.events = append(b.events, EventRowFromEnvelope(out.Envelope))
	b.journals = append(b.journals, JournalRowsFromBatch(out.Batch)...)
	b.notifications = append(b.notifications, notes...)
	return nil
}

func (b *batch) reset() {
	b.outputs = b.outputs[:0]
	b.events = b.events[:0]
	b.journals = b.journals[:0]
	b.notifications = b.notifications[:0]
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends on that channel with a blocking send, so a slow worker
// stalls the core instead of losing events.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *EventLogWriter
	inputChan    <-chan core.CoreOutput
	batchSize    int
	flushTimeout time.Duration
	onFlushed    func([]core.CoreOutput)
	metrics      *observability.Metrics
	logger       zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &PersistenceWorker{
		db:           db,
		writer:       NewEventLogWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		logger:       observability.NewLogger("persistence"),
	}
}

// OnFlushed registers a hook called with every committed batch, in
// sequence order. Notifications are published from here so nothing goes
// out before it is durable.
func (pw *PersistenceWorker) OnFlushed(fn func([]core.CoreOutput)) {
	pw.onFlushed = fn
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. Blocks until ctx is cancelled or the input closes.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	b := &batch{}
	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(b.events) > 0 {
				if err := pw.commit(context.Background(), b); err != nil {
					pw.logger.Error().Err(err).Int("events", len(b.events)).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				if len(b.events) > 0 {
					if err := pw.commit(context.Background(), b); err != nil {
						pw.logger.Error().Err(err).Int("events", len(b.events)).Msg("final flush failed")
						return err
					}
				}
				return nil
			}
			if output.Envelope == nil {
				continue
			}
			if err := b.add(output); err != nil {
				return fmt.Errorf("encode output: %w", err)
			}
			if len(b.events) >= pw.batchSize {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					return err
				}
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			if len(b.events) > 0 {
				if err := pw.flushWithRetry(ctx, b); err != nil {
					return err
				}
			}
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. A batch is never dropped.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, b *batch) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.logger.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("events", len(b.events)).
				Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				// One last attempt so shutdown does not lose the batch.
				if err := pw.commit(context.Background(), b); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := pw.commit(ctx, b)
		if err == nil {
			if attempt > 0 {
				pw.logger.Info().Int("retries", attempt).Msg("persistence flush recovered")
			}
			return nil
		}
		pw.logger.Error().Err(err).Int64("first_seq", b.events[0].Sequence).Msg("persistence flush failed")
	}
}

// commit writes the batch in one transaction, then hands it to the flush
// hook and empties it.
func (pw *PersistenceWorker) commit(ctx context.Context, b *batch) error {
	if err := pw.flush(ctx, b); err != nil {
		return err
	}
	if pw.onFlushed != nil {
		pw.onFlushed(append([]core.CoreOutput(nil), b.outputs...))
	}
	b.reset()
	return nil
}

func (pw *PersistenceWorker) flush(ctx context.Context, b *batch) error {
	start := time.Now()

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.recordError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteEventBatch(ctx, tx, b.events); err != nil {
		pw.recordError("write_events")
		return fmt.Errorf("write events: %w", err)
	}
	if err := pw.writer.WriteJournalBatch(ctx, tx, b.journals); err != nil {
		pw.recordError("write_journals")
		return fmt.Errorf("write journals: %w", err)
	}
	if err := pw.writer.WriteNotificationBatch(ctx, tx, b.notifications); err != nil {
		pw.recordError("write_notifications")
		return fmt.Errorf("write notifications: %w", err)
	}
	if err := tx.Commit(); err != nil {
		pw.recordError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(b.events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(b.events)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(b.journals)))
		pw.metrics.PersistLastSequence.Set(float64(b.events[len(b.events)-1].Sequence))
	}
	return nil
}

func (pw *PersistenceWorker) recordError(stage string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(stage).Inc()
	}
}
