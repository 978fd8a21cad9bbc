package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"DexLedger/internal/event"
	"DexLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	NotificationStream        = "DEX_NOTIFICATIONS"
	NotificationSubjectPrefix = "dex.note."
)

// Publisher is the subset of jetstream.JetStream the outbound publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes the notifications of persisted events to
// dex.note.<kind>. Each message carries Nats-Msg-Id <sequence>-<index>, so
// republishing after a restart is deduplicated by the stream.
type OutboundPublisher struct {
	js        Publisher
	inputChan <-chan PublishableEvent
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

// PublishableEvent is the notification list of one persisted event.
type PublishableEvent struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	StateHash      []byte
	Timestamp      time.Time
	Notifications  []event.Notification
}

// OutboundMessage is the JSON body of a published notification.
type OutboundMessage struct {
	Sequence       int64           `json:"sequence"`
	Index          int             `json:"index"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
	Notification   json.RawMessage `json:"notification"`
}

func NewOutboundPublisher(js Publisher, inputChan <-chan PublishableEvent, metrics *observability.Metrics) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("publisher"),
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}
			for i, n := range evt.Notifications {
				if err := op.publish(ctx, evt, i, n); err != nil {
					// Non-fatal: consumers can read event_log.notifications.
					op.logger.Warn().Err(err).
						Int64("sequence", evt.Sequence).
						Str("kind", n.Kind.String()).
						Msg("outbound publish failed")
					if op.metrics != nil {
						op.metrics.PublishErrors.WithLabelValues(n.Kind.String()).Inc()
					}
				}
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent, idx int, n event.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	data, err := json.Marshal(OutboundMessage{
		Sequence:       evt.Sequence,
		Index:          idx,
		EventType:      evt.EventType,
		IdempotencyKey: evt.IdempotencyKey,
		StateHash:      fmt.Sprintf("%x", evt.StateHash),
		Timestamp:      evt.Timestamp,
		Notification:   body,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	_, err = op.js.Publish(ctx, NotificationSubject(n.Kind), data, jetstream.WithMsgID(MessageID(evt.Sequence, idx)))
	return err
}

// MessageID is the dedup id of the idx-th notification of an event.
func MessageID(sequence int64, idx int) string {
	return fmt.Sprintf("%d-%d", sequence, idx)
}

// NotificationSubject maps PoolCreated to dex.note.pool_created.
func NotificationSubject(kind event.NotificationKind) string {
	return NotificationSubjectPrefix + snakeCase(kind.String())
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			// Break before an upper-case rune that starts a new word: after a
			// lower-case rune, or before a lower-case rune inside an acronym.
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
