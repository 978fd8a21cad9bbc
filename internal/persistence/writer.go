package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// EventLogWriter writes events, journals and notifications with multi-row
// INSERTs. Every write is idempotent on its primary key so a retried batch
// never duplicates rows.
type EventLogWriter struct {
	db *sql.DB
}

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventType      string
	IdempotencyKey string
	Caller         string
	SourceSequence int64
	Payload        []byte // JSON-encoded command
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	AssetID       uint32
	Amount        string // decimal, NUMERIC(78,0)
	JournalType   string
	Timestamp     int64 // epoch microseconds
}

// NotificationRow represents a row in event_log.notifications
type NotificationRow struct {
	Sequence int64
	Index    int
	Kind     string
	Payload  []byte
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

// EventRowFromEnvelope flattens an envelope for storage.
func EventRowFromEnvelope(env *event.EventEnvelope) EventRow {
	stateHash, prevHash := env.StateHash, env.PrevHash
	return EventRow{
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Caller:         env.Caller.String(),
		SourceSequence: env.SourceSequence,
		Payload:        env.Payload,
		StateHash:      stateHash[:],
		PrevHash:       prevHash[:],
		Timestamp:      env.Timestamp.UTC(),
	}
}

// Envelope rebuilds the logged envelope for replay.
func (r EventRow) Envelope() (*event.EventEnvelope, error) {
	et := event.ParseEventType(r.EventType)
	if et == event.EventTypeUnknown {
		return nil, fmt.Errorf("seq %d: unknown event type %q", r.Sequence, r.EventType)
	}
	if len(r.StateHash) != 32 || len(r.PrevHash) != 32 {
		return nil, fmt.Errorf("seq %d: malformed hash", r.Sequence)
	}
	env := &event.EventEnvelope{
		Sequence:       r.Sequence,
		IdempotencyKey: r.IdempotencyKey,
		EventType:      et,
		Timestamp:      r.Timestamp.UTC(),
		SourceSequence: r.SourceSequence,
		Payload:        r.Payload,
	}
	if err := env.Caller.UnmarshalText([]byte(r.Caller)); err != nil {
		return nil, fmt.Errorf("seq %d: caller: %w", r.Sequence, err)
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// JournalRowsFromBatch flattens a batch. Amounts are written as decimal
// text so the full 128-bit range fits NUMERIC.
func JournalRowsFromBatch(b *ledger.Batch) []JournalRow {
	if b == nil {
		return nil
	}
	rows := make([]JournalRow, 0, len(b.Journals))
	for _, j := range b.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID.String(),
			BatchID:       j.BatchID.String(),
			EventRef:      j.EventRef,
			Sequence:      j.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			AssetID:       uint32(j.AssetID),
			Amount:        j.Amount.String(),
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

// NotificationRowsFrom encodes the notifications of one event in emission
// order.
func NotificationRowsFrom(sequence int64, notes []event.Notification) ([]NotificationRow, error) {
	rows := make([]NotificationRow, 0, len(notes))
	for i, n := range notes {
		payload, err := json.Marshal(n)
		if err != nil {
			return nil, fmt.Errorf("seq %d notification %d: %w", sequence, i, err)
		}
		rows = append(rows, NotificationRow{
			Sequence: sequence,
			Index:    i,
			Kind:     n.Kind.String(),
			Payload:  payload,
		})
	}
	return rows, nil
}

// WriteEventBatch writes a batch of events to event_log.events.
func (w *EventLogWriter) WriteEventBatch(ctx context.Context, ex Execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	const cols = 9
	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*cols)
	for i, e := range events {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			e.Sequence, e.EventType, e.IdempotencyKey, e.Caller, e.SourceSequence,
			e.Payload, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}

	query := `INSERT INTO event_log.events
		(sequence, event_type, idempotency_key, caller, source_sequence, payload, state_hash, prev_hash, timestamp)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (sequence) DO NOTHING`
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteJournalBatch writes a batch of journal entries to event_log.journal.
func (w *EventLogWriter) WriteJournalBatch(ctx context.Context, ex Execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}

	const cols = 10
	values := make([]string, 0, len(journals))
	args := make([]interface{}, 0, len(journals)*cols)
	for i, j := range journals {
		values = append(values, placeholders(i*cols, cols))
		args = append(args,
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.AssetID, j.Amount,
			j.JournalType, j.Timestamp,
		)
	}

	query := `INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account, asset_id, amount, journal_type, timestamp)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (journal_id) DO NOTHING`
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteNotificationBatch writes notifications to event_log.notifications.
func (w *EventLogWriter) WriteNotificationBatch(ctx context.Context, ex Execer, notes []NotificationRow) error {
	if len(notes) == 0 {
		return nil
	}

	const cols = 4
	values := make([]string, 0, len(notes))
	args := make([]interface{}, 0, len(notes)*cols)
	for i, n := range notes {
		values = append(values, placeholders(i*cols, cols))
		args = append(args, n.Sequence, n.Index, n.Kind, n.Payload)
	}

	query := `INSERT INTO event_log.notifications (sequence, idx, kind, payload)
		VALUES ` + strings.Join(values, ", ") + ` ON CONFLICT (sequence, idx) DO NOTHING`
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// placeholders renders "($base+1, ..., $base+n)".
func placeholders(base, n int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", base+i)
	}
	b.WriteByte(')')
	return b.String()
}
