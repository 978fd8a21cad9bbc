package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCreateAsset
	EventTypeMintAsset
	EventTypeTransferAsset
	EventTypeCreatePool
	EventTypeAddLiquidity
	EventTypeClaimLiquidity
	EventTypeSwap
	EventTypeMintItem
	EventTypeTransferItem
	EventTypeCreateSale
	EventTypeCancelSale
	EventTypePurchase
	EventTypeAuthorizeOracle
	EventTypeSetPrice
)

// AllEventTypes lists every dispatchable type in declaration order.
var AllEventTypes = []EventType{
	EventTypeCreateAsset, EventTypeMintAsset, EventTypeTransferAsset,
	EventTypeCreatePool, EventTypeAddLiquidity, EventTypeClaimLiquidity, EventTypeSwap,
	EventTypeMintItem, EventTypeTransferItem,
	EventTypeCreateSale, EventTypeCancelSale, EventTypePurchase,
	EventTypeAuthorizeOracle, EventTypeSetPrice,
}

// EventEnvelope wraps every event in the log
type EventEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Signing account
	Caller uuid.UUID

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Caller nonce, validated per account
	SourceSequence int64

	// JSON-encoded event-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this event
	StateHash [32]byte

	// Previous event's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all event payloads must implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// Caller returns the signing account
	Caller() uuid.UUID

	// SourceSequence returns the caller nonce
	SourceSequence() int64

	// EventTime returns the versioned input timestamp
	EventTime() time.Time
}

// Header carries the fields every command shares.
type Header struct {
	RequestID uuid.UUID `json:"request_id"` // Idempotency key
	Signer    uuid.UUID `json:"signer"`
	Nonce     int64     `json:"nonce"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *Header) IdempotencyKey() string { return h.RequestID.String() }

func (h *Header) Caller() uuid.UUID { return h.Signer }

func (h *Header) SourceSequence() int64 { return h.Nonce }

func (h *Header) EventTime() time.Time { return h.Timestamp }

func (et EventType) String() string {
	switch et {
	case EventTypeCreateAsset:
		return "CreateAsset"
	case EventTypeMintAsset:
		return "MintAsset"
	case EventTypeTransferAsset:
		return "TransferAsset"
	case EventTypeCreatePool:
		return "CreatePool"
	case EventTypeAddLiquidity:
		return "AddLiquidity"
	case EventTypeClaimLiquidity:
		return "ClaimLiquidity"
	case EventTypeSwap:
		return "Swap"
	case EventTypeMintItem:
		return "MintItem"
	case EventTypeTransferItem:
		return "TransferItem"
	case EventTypeCreateSale:
		return "CreateSale"
	case EventTypeCancelSale:
		return "CancelSale"
	case EventTypePurchase:
		return "Purchase"
	case EventTypeAuthorizeOracle:
		return "AuthorizeOracle"
	case EventTypeSetPrice:
		return "SetPrice"
	default:
		return "Unknown"
	}
}

// Subject is the snake_case token used in NATS subjects and HTTP paths.
func (et EventType) Subject() string {
	switch et {
	case EventTypeCreateAsset:
		return "create_asset"
	case EventTypeMintAsset:
		return "mint_asset"
	case EventTypeTransferAsset:
		return "transfer_asset"
	case EventTypeCreatePool:
		return "create_pool"
	case EventTypeAddLiquidity:
		return "add_liquidity"
	case EventTypeClaimLiquidity:
		return "claim_liquidity"
	case EventTypeSwap:
		return "swap"
	case EventTypeMintItem:
		return "mint_item"
	case EventTypeTransferItem:
		return "transfer_item"
	case EventTypeCreateSale:
		return "create_sale"
	case EventTypeCancelSale:
		return "cancel_sale"
	case EventTypePurchase:
		return "purchase"
	case EventTypeAuthorizeOracle:
		return "authorize_oracle"
	case EventTypeSetPrice:
		return "set_price"
	default:
		return "unknown"
	}
}

// EventTypeFromSubject is the inverse of Subject.
func EventTypeFromSubject(s string) EventType {
	for _, et := range AllEventTypes {
		if et.Subject() == s {
			return et
		}
	}
	return EventTypeUnknown
}

// ParseEventType is the inverse of String.
func ParseEventType(name string) EventType {
	for _, et := range AllEventTypes {
		if et.String() == name {
			return et
		}
	}
	return EventTypeUnknown
}

// New returns an empty command of the given type, ready to be decoded into.
func New(et EventType) (Event, error) {
	switch et {
	case EventTypeCreateAsset:
		return &CreateAsset{}, nil
	case EventTypeMintAsset:
		return &MintAsset{}, nil
	case EventTypeTransferAsset:
		return &TransferAsset{}, nil
	case EventTypeCreatePool:
		return &CreatePool{}, nil
	case EventTypeAddLiquidity:
		return &AddLiquidity{}, nil
	case EventTypeClaimLiquidity:
		return &ClaimLiquidity{}, nil
	case EventTypeSwap:
		return &Swap{}, nil
	case EventTypeMintItem:
		return &MintItem{}, nil
	case EventTypeTransferItem:
		return &TransferItem{}, nil
	case EventTypeCreateSale:
		return &CreateSale{}, nil
	case EventTypeCancelSale:
		return &CancelSale{}, nil
	case EventTypePurchase:
		return &Purchase{}, nil
	case EventTypeAuthorizeOracle:
		return &AuthorizeOracle{}, nil
	case EventTypeSetPrice:
		return &SetPrice{}, nil
	}
	return nil, fmt.Errorf("unknown event type %d", et)
}

// Decode rebuilds a command from its stored JSON payload.
func Decode(et EventType, payload []byte) (Event, error) {
	evt, err := New(et)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, evt); err != nil {
		return nil, fmt.Errorf("decode %s: %w", et, err)
	}
	return evt, nil
}
