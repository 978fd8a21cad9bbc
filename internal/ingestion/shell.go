package ingestion

import (
	"context"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/observability"
)

// RunNATSShell parses raw NATS messages and forwards them to the core.
// Messages are acked once they are queued for the core, not after the core
// applies them: a slow core then throttles NATS through the blocking send
// instead of expiring AckWait. Unparseable messages are acked and dropped
// so they are not redelivered.
func RunNATSShell(ctx context.Context, rawChan <-chan RawEvent, submissions chan<- core.Submission, metrics *observability.Metrics) error {
	logger := observability.NewLogger("ingest")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-rawChan:
			if !ok {
				return nil
			}

			evt, err := ParseRawEvent(raw)
			if err != nil {
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable command")
				raw.AckFunc()
				continue
			}

			select {
			case submissions <- core.Submission{Event: evt}:
				raw.AckFunc()
				if metrics != nil {
					metrics.IngestToApply.WithLabelValues("nats").Observe(time.Since(raw.Timestamp).Seconds())
				}
			case <-ctx.Done():
				raw.NakFunc()
				return ctx.Err()
			}
		}
	}
}
