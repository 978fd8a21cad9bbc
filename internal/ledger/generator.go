package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// batchNamespace derives batch and journal ids from the event they belong
// to, so a replay of the log reproduces the same ids.
var batchNamespace = uuid.MustParse("a3e6b5f2-94d1-4c35-8b4e-0f2d7c9e1b60")

// JournalGenerator stamps drained journals into sequenced batches
type JournalGenerator struct {
	sequence int64
}

func NewJournalGenerator(startSequence int64) *JournalGenerator {
	return &JournalGenerator{
		sequence: startSequence,
	}
}

// NewBatch wraps the journals of one accepted command.
func (jg *JournalGenerator) NewBatch(eventRef string, timestamp int64, journals []Journal) *Batch {
	batchID := uuid.NewSHA1(batchNamespace, []byte(fmt.Sprintf("%d:%s", jg.sequence, eventRef)))

	batch := &Batch{
		BatchID:   batchID,
		EventRef:  eventRef,
		Sequence:  jg.sequence,
		Timestamp: timestamp,
		Journals:  make([]Journal, 0, len(journals)),
	}

	for i, j := range journals {
		j.JournalID = uuid.NewSHA1(batchID, []byte(fmt.Sprintf("%d", i)))
		j.BatchID = batchID
		j.EventRef = eventRef
		j.Sequence = jg.sequence
		j.Timestamp = timestamp
		batch.Journals = append(batch.Journals, j)
	}

	jg.sequence++
	return batch
}

// Sequence returns the sequence the next batch will carry.
func (jg *JournalGenerator) Sequence() int64 {
	return jg.sequence
}

// SetSequence realigns the generator after a snapshot restore.
func (jg *JournalGenerator) SetSequence(seq int64) {
	jg.sequence = seq
}
