package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync/atomic"
	"time"

	"DexLedger/internal/dex"
	"DexLedger/internal/event"
	"DexLedger/internal/ledger"
	"DexLedger/internal/market"
	"DexLedger/internal/nft"
	"DexLedger/internal/observability"
	"DexLedger/internal/state"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNotAuthorized   = errors.New("caller is not the administrator")
	ErrSystemCaller    = errors.New("system accounts cannot sign commands")
	ErrInvalidAmount   = errors.New("amount must be positive")
	ErrUnknownEvent    = errors.New("unknown event type")
	ErrEmptyIdempotent = errors.New("empty idempotency key")
	ErrReplayDiverged  = errors.New("replay diverged from the event log")
)

// Config carries the deployment parameters of the core.
type Config struct {
	StartSequence          int64
	Admin                  uuid.UUID
	MaxTokenURI            int
	InvariantCheckInterval int64
	IdempotencyCapacity    int
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxTokenURI <= 0 {
		cfg.MaxTokenURI = nft.DefaultMaxTokenURI
	}
	if cfg.InvariantCheckInterval <= 0 {
		cfg.InvariantCheckInterval = 1000
	}
	if cfg.IdempotencyCapacity <= 0 {
		cfg.IdempotencyCapacity = 1_000_000
	}
	return cfg
}

// DeterministicCore is the single-threaded event processor
type DeterministicCore struct {
	cfg      Config
	sequence int64

	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	notes             *event.Buffer
	pools             *dex.Engine
	items             *nft.Registry
	market            *market.Market
	oracle            *state.PriceOracle
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics
	logger            zerolog.Logger

	view atomic.Pointer[View]

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// PoolState is a pool record together with its live reserves.
type PoolState struct {
	Pool    dex.Pool    `json:"pool"`
	Custody dex.Custody `json:"custody"`
}

// SaleUpdate reports a listing change. A nil Sale means the listing is gone.
type SaleUpdate struct {
	ID   uint64       `json:"id"`
	Sale *market.Sale `json:"sale,omitempty"`
}

// CoreOutput is everything an accepted event produced.
type CoreOutput struct {
	Envelope      *event.EventEnvelope
	Batch         *ledger.Batch
	Notifications []event.Notification
	Assets        []ledger.AssetInfo
	Pools         []PoolState
	Items         []nft.Item
	Sales         []SaleUpdate
	Prices        []state.PriceEntry
}

// effects names the records an event touched, for the projections.
type effects struct {
	assets []ledger.AssetID
	items  []uint64
	sales  []uint64
	prices []ledger.AssetID
}

func NewDeterministicCore(
	cfg Config,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *DeterministicCore {
	cfg = cfg.withDefaults()

	notes := &event.Buffer{}
	balanceTracker := ledger.NewBalanceTracker()
	items := nft.NewRegistry(notes, cfg.MaxTokenURI)

	c := &DeterministicCore{
		cfg:               cfg,
		sequence:          cfg.StartSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(cfg.StartSequence),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		notes:             notes,
		pools:             dex.NewEngine(balanceTracker, notes, cfg.Admin),
		items:             items,
		market:            market.NewMarket(items, balanceTracker, notes),
		oracle:            state.NewPriceOracle(cfg.Admin, notes),
		idempotency:       NewIdempotencyChecker(cfg.IdempotencyCapacity, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		logger:            observability.NewLogger("core"),
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
	if metrics != nil {
		c.idempotency.OnDuplicate(func(eventType, tier string) {
			metrics.IdempotencyDuplicates.WithLabelValues(eventType, tier).Inc()
		})
	}
	c.publishView()
	return c
}

// SetLogger replaces the component logger.
func (c *DeterministicCore) SetLogger(l zerolog.Logger) {
	c.logger = l
}

// ProcessEvent is the main processing pipeline
func (c *DeterministicCore) ProcessEvent(evt event.Event) error {
	_, err := c.apply(evt, false)
	return err
}

// ReplayEnvelope re-applies a logged event during recovery. The event must
// land on the same sequence and reproduce the logged state hash.
func (c *DeterministicCore) ReplayEnvelope(env *event.EventEnvelope) error {
	if env.Sequence != c.sequence {
		return fmt.Errorf("%w: replay of seq %d at core seq %d", ErrReplayDiverged, env.Sequence, c.sequence)
	}
	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return err
	}
	out, err := c.apply(evt, true)
	if err != nil {
		return fmt.Errorf("%w: seq %d rejected: %v", ErrReplayDiverged, env.Sequence, err)
	}
	if out == nil {
		return fmt.Errorf("%w: seq %d skipped", ErrReplayDiverged, env.Sequence)
	}
	if out.Envelope.StateHash != env.StateHash {
		return fmt.Errorf("%w: state hash mismatch at seq %d", ErrReplayDiverged, env.Sequence)
	}
	return nil
}

// apply runs one event. A nil output with a nil error means the event was
// skipped (duplicate or stale price). Replayed events bypass the durable
// dedup tier and are not sent to persistence again.
func (c *DeterministicCore) apply(evt event.Event, replay bool) (*CoreOutput, error) {
	start := time.Now()
	eventType := evt.EventType().String()
	idempotencyKey := evt.IdempotencyKey()
	if idempotencyKey == "" || idempotencyKey == uuid.Nil.String() {
		return nil, ErrEmptyIdempotent
	}

	// Step 1: Idempotency check (two-tier)
	var isDuplicate bool
	if replay {
		isDuplicate = c.idempotency.SeenRecently(eventType, idempotencyKey)
	} else {
		isDuplicate = c.idempotency.IsDuplicate(eventType, idempotencyKey)
	}

	// Step 2: Sequence validation. Prices tolerate gaps; everything else is
	// a contiguous per-account nonce.
	partition := AccountPartition(evt.Caller())
	sourceSequence := evt.SourceSequence()
	if priceEvt, ok := evt.(*event.SetPrice); ok {
		partition = priceEvt.PricePartition()
		if !isDuplicate && c.sequenceValidator.CheckPriceSequence(partition, sourceSequence) {
			c.reject(eventType, "stale_price")
			return nil, nil
		}
	} else if err := c.sequenceValidator.CheckSequence(partition, sourceSequence, isDuplicate); err != nil {
		c.recordSequenceError(eventType, err)
		return nil, fmt.Errorf("sequence validation failed: %w", err)
	}

	if isDuplicate {
		c.reject(eventType, "duplicate")
		return nil, nil
	}

	if _, system := ledger.SystemAccountName(evt.Caller()); system {
		c.reject(eventType, ErrorKind(ErrSystemCaller))
		return nil, ErrSystemCaller
	}

	// Step 3: Dispatch inside a transaction across every component.
	tx := c.begin()
	var fx effects
	if err := c.dispatchEvent(evt, &fx); err != nil {
		tx.rollback()
		c.notes.Discard()
		kind := ErrorKind(err)
		c.reject(eventType, kind)
		c.logger.Debug().
			Str("event_type", eventType).
			Str("idempotency_key", idempotencyKey).
			Str("caller", evt.Caller().String()).
			Str("reason", kind).
			Err(err).
			Msg("event rejected")
		return nil, fmt.Errorf("dispatch failed: %w", err)
	}
	tx.commit()
	c.sequenceValidator.Advance(partition, sourceSequence)

	// Step 4: Stamp the journals into a batch and validate it.
	timestamp := evt.EventTime()
	c.journalGen.SetSequence(c.sequence)
	batch := c.journalGen.NewBatch(idempotencyKey, timestamp.UnixMicro(), c.balanceTracker.DrainJournals())
	if err := c.validator.ValidateBatchBalance(batch); err != nil {
		panic(fmt.Sprintf("FATAL: malformed batch at seq %d: %v", c.sequence, err))
	}
	notifications := c.notes.Drain()

	// Step 5: Extend the hash chain.
	hashStart := time.Now()
	stateDigest := c.computeStateDigest(batch, notifications)
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, stateDigest)
	if c.metrics != nil {
		c.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode accepted %s: %v", eventType, err))
	}

	envelope := &event.EventEnvelope{
		Sequence:       c.sequence,
		IdempotencyKey: idempotencyKey,
		EventType:      evt.EventType(),
		Caller:         evt.Caller(),
		Timestamp:      timestamp,
		SourceSequence: sourceSequence,
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:      envelope,
		Batch:         batch,
		Notifications: notifications,
	}
	c.collectEffects(&output, batch, fx)

	// Step 6: Periodic global supply check.
	c.sequence++
	if c.sequence%c.cfg.InvariantCheckInterval == 0 {
		c.checkInvariants()
	}

	// Step 7: Emit. Persistence blocks (backpressure); projections drop when
	// full and rebuild from the event log.
	if !replay && c.persistChan != nil {
		select {
		case c.persistChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.PersistBackpressure.Inc()
			}
			c.persistChan <- output
		}
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- output:
		default:
			if c.metrics != nil {
				c.metrics.ProjectionDrops.WithLabelValues("projection").Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	c.publishView()
	c.recordApplied(evt, eventType, start, batch, notifications)
	return &output, nil
}

func (c *DeterministicCore) reject(eventType, reason string) {
	if c.metrics != nil {
		c.metrics.CoreEventsRejected.WithLabelValues(eventType, reason).Inc()
	}
}

func (c *DeterministicCore) recordSequenceError(eventType string, err error) {
	c.reject(eventType, ErrorKind(err))
	if c.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ErrSequenceGap):
		c.metrics.EventSequenceGap.WithLabelValues(eventType).Inc()
	case errors.Is(err, ErrOutOfOrder):
		c.metrics.EventOutOfOrder.WithLabelValues(eventType).Inc()
	}
}

func (c *DeterministicCore) recordApplied(evt event.Event, eventType string, start time.Time, batch *ledger.Batch, notes []event.Notification) {
	if c.metrics == nil {
		return
	}
	m := c.metrics
	m.CoreEventsApplied.WithLabelValues(eventType).Inc()
	m.CoreEventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	m.CoreSequence.Set(float64(c.sequence))
	for _, j := range batch.Journals {
		m.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
	}
	for _, n := range notes {
		m.CoreNotifications.WithLabelValues(n.Kind.String()).Inc()
	}

	switch e := evt.(type) {
	case *event.Swap:
		poolID := strconv.FormatUint(uint64(e.PoolID), 10)
		m.DexSwaps.WithLabelValues(poolID).Inc()
		m.DexSwapVolume.WithLabelValues(poolID, strconv.FormatUint(uint64(e.FromAsset), 10)).Add(e.Amount.Float64())
	case *event.AddLiquidity:
		m.DexLiquidityOps.WithLabelValues(strconv.FormatUint(uint64(e.PoolID), 10), "add").Inc()
	case *event.ClaimLiquidity:
		m.DexLiquidityOps.WithLabelValues(strconv.FormatUint(uint64(e.PoolID), 10), "claim").Inc()
	case *event.Purchase:
		m.MarketPurchases.Inc()
	}

	m.DexPools.Set(float64(len(c.pools.Pools())))
	m.NftItems.Set(float64(c.items.LastID()))
	m.MarketSales.Set(float64(len(c.market.Sales())))
	m.DedupLRUSize.Set(float64(c.idempotency.lru.Size()))
	m.DedupLRUEvictions.Set(float64(c.idempotency.lru.Evictions()))
}

// checkInvariants verifies that every asset's holdings add up to its supply.
func (c *DeterministicCore) checkInvariants() {
	if c.metrics != nil {
		c.metrics.InvariantChecks.Inc()
	}
	if err := c.validator.ValidateSupply(); err != nil {
		panic(fmt.Sprintf("FATAL: supply invariant violated at seq %d: %v", c.sequence, err))
	}
	if err := c.validator.ValidateAssetsRegistered(); err != nil {
		panic(fmt.Sprintf("FATAL: registry invariant violated at seq %d: %v", c.sequence, err))
	}
}

// collectEffects copies the records touched by an event into the output.
// Pools are touched whenever a journal moves one of their three assets.
func (c *DeterministicCore) collectEffects(out *CoreOutput, batch *ledger.Batch, fx effects) {
	moved := make(map[ledger.AssetID]bool)
	for _, j := range batch.Journals {
		moved[j.AssetID] = true
	}
	for _, p := range c.pools.Pools() {
		if moved[p.AssetA] || moved[p.AssetB] || moved[p.LPToken] {
			custody, _ := c.pools.Custody(p.ID)
			out.Pools = append(out.Pools, PoolState{Pool: p, Custody: custody})
		}
	}

	for _, id := range fx.assets {
		if info, ok := c.balanceTracker.Asset(id); ok {
			out.Assets = append(out.Assets, info)
		}
	}
	for _, id := range fx.items {
		if it, ok := c.items.Item(id); ok {
			out.Items = append(out.Items, it)
		}
	}
	for _, id := range fx.sales {
		update := SaleUpdate{ID: id}
		if s, ok := c.market.Sale(id); ok {
			update.Sale = &s
		}
		out.Sales = append(out.Sales, update)
	}
	for _, id := range fx.prices {
		if p, ok := c.oracle.GetPrice(id); ok {
			out.Prices = append(out.Prices, p)
		}
	}
}

// computeStateDigest creates canonical bytes for the state hash: every
// account touched by the batch with its post-event balance, then the
// notifications in emission order.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch, notes []event.Notification) []byte {
	accounts := batch.TouchedAccounts()
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)
	for _, key := range accounts {
		balance := c.balanceTracker.GetBalance(key)
		if key.Scope == ledger.AccountScopeExternal {
			balance = c.balanceTracker.TotalIssuance(key.AssetID)
		}

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		b := balance.Bytes16()
		digest = append(digest, b[:]...)
	}

	for _, n := range notes {
		encoded, err := json.Marshal(n)
		if err != nil {
			panic(fmt.Sprintf("FATAL: cannot encode notification %s: %v", n.Kind, err))
		}
		digest = append(digest, encoded...)
	}
	return digest
}

// GetSequence returns the next global sequence to assign.
func (c *DeterministicCore) GetSequence() int64 {
	return c.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (c *DeterministicCore) GetStateHash() [32]byte {
	return c.hasher.GetPrevHash()
}

// WarmLRU loads recent idempotency keys into the LRU cache. Keys have the
// form "<EventType>:<idempotency key>".
func (c *DeterministicCore) WarmLRU(keys []string) {
	c.idempotency.lru.WarmFromKeys(keys)
}

// === Component accessors, for the core goroutine and tests only ===

func (c *DeterministicCore) Balances() *ledger.BalanceTracker { return c.balanceTracker }
func (c *DeterministicCore) Pools() *dex.Engine               { return c.pools }
func (c *DeterministicCore) Items() *nft.Registry             { return c.items }
func (c *DeterministicCore) Market() *market.Market           { return c.market }
func (c *DeterministicCore) Oracle() *state.PriceOracle       { return c.oracle }
func (c *DeterministicCore) Sequences() *SequenceValidator    { return c.sequenceValidator }
