package ingestion

import (
	"context"
	"fmt"

	"DexLedger/internal/core"
	"DexLedger/internal/event"
)

// GRPCIngestService submits commands that arrive over gRPC or HTTP. Unlike
// NATS ingestion it waits for the core's verdict so the caller learns why a
// command was rejected.
type GRPCIngestService struct {
	submissions chan<- core.Submission
}

func NewGRPCIngestService(submissions chan<- core.Submission) *GRPCIngestService {
	return &GRPCIngestService{submissions: submissions}
}

// SubmitJSON parses the wire form of a command of the given type and
// applies it.
func (s *GRPCIngestService) SubmitJSON(ctx context.Context, eventType string, data []byte) error {
	et := event.EventTypeFromSubject(eventType)
	if et == event.EventTypeUnknown {
		return fmt.Errorf("%w: %s", ErrUnknownSubject, eventType)
	}
	evt, err := ParseCommand(et, data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return s.Submit(ctx, evt)
}

// Submit queues evt behind every earlier command and waits for the result.
func (s *GRPCIngestService) Submit(ctx context.Context, evt event.Event) error {
	result := make(chan error, 1)
	select {
	case s.submissions <- core.Submission{Event: evt, Result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
