package core

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrSequenceGap = errors.New("sequence gap")
	ErrOutOfOrder  = errors.New("out-of-order event")
)

// firstNonce is the nonce every account partition starts from.
const firstNonce int64 = 1

// SequenceValidator validates source sequences per partition.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceValidator struct {
	expectedNextSeq map[string]int64 // partition -> next expected sequence
	metrics         *SequenceMetrics
}

func NewSequenceValidator() *SequenceValidator {
	return &SequenceValidator{
		expectedNextSeq: make(map[string]int64),
		metrics:         NewSequenceMetrics(),
	}
}

// AccountPartition is the nonce partition of a signing account.
func AccountPartition(caller uuid.UUID) string {
	return fmt.Sprintf("account:%s", caller)
}

func (sv *SequenceValidator) expected(partition string) int64 {
	if next, ok := sv.expectedNextSeq[partition]; ok {
		return next
	}
	return firstNonce
}

// CheckSequence validates a caller nonce without consuming it. Nonces are
// consumed by Advance once the command is accepted, so a rejected command
// can be resubmitted with the same nonce.
func (sv *SequenceValidator) CheckSequence(partition string, sourceSequence int64, isDuplicate bool) error {
	expected := sv.expected(partition)

	if sourceSequence < expected {
		if isDuplicate {
			return nil
		}
		sv.metrics.RecordOutOfOrder(partition)
		return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
			ErrOutOfOrder, partition, expected, sourceSequence)
	}

	if sourceSequence == expected {
		return nil
	}

	sv.metrics.RecordGap(partition, expected, sourceSequence)
	return fmt.Errorf("%w: partition=%s, expected=%d, got=%d",
		ErrSequenceGap, partition, expected, sourceSequence)
}

// Advance consumes sourceSequence in partition.
func (sv *SequenceValidator) Advance(partition string, sourceSequence int64) {
	if sourceSequence+1 > sv.expected(partition) {
		sv.expectedNextSeq[partition] = sourceSequence + 1
	}
}

// CheckPriceSequence validates a price feed sequence. Gaps are tolerated;
// stale updates report stale=true and must be skipped.
func (sv *SequenceValidator) CheckPriceSequence(partition string, priceSequence int64) (stale bool) {
	expected := sv.expectedNextSeq[partition]

	if priceSequence < expected {
		return true
	}
	if priceSequence > expected && expected > 0 {
		sv.metrics.RecordPriceGap(partition, expected, priceSequence)
	}
	return false
}

// GetExpectedSequence returns next expected sequence for a partition
func (sv *SequenceValidator) GetExpectedSequence(partition string) int64 {
	return sv.expected(partition)
}

// GetAllPartitions copies the partition state for a snapshot.
func (sv *SequenceValidator) GetAllPartitions() map[string]int64 {
	out := make(map[string]int64, len(sv.expectedNextSeq))
	for p, next := range sv.expectedNextSeq {
		out[p] = next
	}
	return out
}

// RestorePartition sets the next expected sequence (used during recovery)
func (sv *SequenceValidator) RestorePartition(partition string, nextSeq int64) {
	sv.expectedNextSeq[partition] = nextSeq
}

// Metrics returns the validator's counters.
func (sv *SequenceValidator) Metrics() *SequenceMetrics {
	return sv.metrics
}

// --- Metrics ---

// SequenceMetrics tracks sequence validation stats.
// Not thread-safe — only accessed from the single-threaded deterministic core.
type SequenceMetrics struct {
	gaps       map[string]int64
	outOfOrder map[string]int64
	priceGaps  map[string]int64
}

func NewSequenceMetrics() *SequenceMetrics {
	return &SequenceMetrics{
		gaps:       make(map[string]int64),
		outOfOrder: make(map[string]int64),
		priceGaps:  make(map[string]int64),
	}
}

func (m *SequenceMetrics) RecordGap(partition string, expected, got int64) {
	m.gaps[partition]++
}

func (m *SequenceMetrics) RecordOutOfOrder(partition string) {
	m.outOfOrder[partition]++
}

func (m *SequenceMetrics) RecordPriceGap(partition string, expected, got int64) {
	m.priceGaps[partition]++
}

func (m *SequenceMetrics) GetGaps(partition string) int64 {
	return m.gaps[partition]
}

func (m *SequenceMetrics) GetOutOfOrder(partition string) int64 {
	return m.outOfOrder[partition]
}

func (m *SequenceMetrics) GetPriceGaps(partition string) int64 {
	return m.priceGaps[partition]
}
