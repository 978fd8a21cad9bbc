package core

import (
	"context"

	"DexLedger/internal/event"
)

// Submission is one command headed for the core. Result, when set,
// receives the outcome; it must have room for one value.
type Submission struct {
	Event  event.Event
	Result chan<- error
}

// Runner owns the core goroutine. NATS and gRPC ingestion both feed its
// input channel, so commands from every source are applied one at a time.
type Runner struct {
	core             *DeterministicCore
	input            <-chan Submission
	snapshots        chan<- *SnapshotState
	snapshotInterval int64
}

// NewRunner wires the loop. Every snapshotInterval applied events a
// SnapshotState is taken on the core goroutine and offered to snapshots;
// a nil channel or non-positive interval disables snapshots.
func NewRunner(c *DeterministicCore, input <-chan Submission, snapshots chan<- *SnapshotState, snapshotInterval int64) *Runner {
	return &Runner{core: c, input: input, snapshots: snapshots, snapshotInterval: snapshotInterval}
}

// Run applies submissions until ctx is cancelled or input is closed.
func (r *Runner) Run(ctx context.Context) error {
	lastSnapshot := r.core.GetSequence()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub, ok := <-r.input:
			if !ok {
				return nil
			}
			err := r.core.ProcessEvent(sub.Event)
			if err != nil {
				r.core.logger.Debug().
					Err(err).
					Str("event_type", sub.Event.EventType().String()).
					Str("idempotency_key", sub.Event.IdempotencyKey()).
					Msg("submission rejected")
			}
			if sub.Result != nil {
				sub.Result <- err
			}

			if r.snapshots != nil && r.snapshotInterval > 0 && r.core.GetSequence()-lastSnapshot >= r.snapshotInterval {
				select {
				case r.snapshots <- r.core.CreateSnapshotState():
					lastSnapshot = r.core.GetSequence()
				default:
					// Saver still busy with the previous one; retry next event.
				}
			}
		}
	}
}

// FinalSnapshot captures state after Run has returned.
func (r *Runner) FinalSnapshot() *SnapshotState {
	return r.core.CreateSnapshotState()
}
