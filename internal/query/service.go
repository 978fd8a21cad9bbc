package query

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"DexLedger/internal/core"
	"DexLedger/internal/ledger"
	"DexLedger/internal/observability"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// QueryService provides read-only access to the projection tables and the
// event log. Responses carry as_of_sequence, the projection watermark, so
// callers can tell how fresh they are.
type QueryService struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewQueryService(db *sql.DB, metrics *observability.Metrics) *QueryService {
	return &QueryService{db: db, metrics: metrics}
}

// GetPool returns one pool.
func (qs *QueryService) GetPool(ctx context.Context, poolID ledger.AssetID) (*PoolResponse, error) {
	defer qs.observe("get_pool")()
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	p := &PoolResponse{AsOfSequence: asOfSeq}
	err = qs.db.QueryRowContext(ctx, poolColumns+` WHERE pool_id = $1`, uint32(poolID)).Scan(p.scanTargets()...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: pool %d", ErrNotFound, poolID)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPools returns every pool ordered by id.
func (qs *QueryService) ListPools(ctx context.Context) ([]PoolResponse, error) {
	defer qs.observe("list_pools")()
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, poolColumns+` ORDER BY pool_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolResponse
	for rows.Next() {
		p := PoolResponse{AsOfSequence: asOfSeq}
		if err := rows.Scan(p.scanTargets()...); err != nil {
			return nil, err
		}
		pools = append(pools, p)
	}
	return pools, rows.Err()
}

const poolColumns = `
	SELECT pool_id, asset_a, asset_b, lp_token, constant_k, fee_numerator, fee_denominator,
	       total_a, total_b, total_lp, last_sequence
	FROM projections.pools`

func (p *PoolResponse) scanTargets() []interface{} {
	return []interface{}{
		&p.PoolID, &p.AssetA, &p.AssetB, &p.LPToken, &p.ConstantK, &p.FeeNumerator, &p.FeeDenominator,
		&p.TotalA, &p.TotalB, &p.TotalLP, &p.LastSequence,
	}
}

// GetItem returns one NFT.
func (qs *QueryService) GetItem(ctx context.Context, itemID uint64) (*ItemResponse, error) {
	defer qs.observe("get_item")()
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	it := &ItemResponse{ItemID: itemID, AsOfSequence: asOfSeq}
	var uri []byte
	err = qs.db.QueryRowContext(ctx, `
		SELECT owner, token_uri, soul_bound, last_sequence FROM projections.items WHERE item_id = $1
	`, int64(itemID)).Scan(&it.Owner, &uri, &it.SoulBound, &it.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: item %d", ErrNotFound, itemID)
	}
	if err != nil {
		return nil, err
	}
	it.TokenURI = string(uri)
	return it, nil
}

// ListItemsByOwner returns the NFTs an account holds, by id.
func (qs *QueryService) ListItemsByOwner(ctx context.Context, owner uuid.UUID) ([]ItemResponse, error) {
	defer qs.observe("list_items")()
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT item_id, token_uri, soul_bound, last_sequence
		FROM projections.items WHERE owner = $1 ORDER BY item_id
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ItemResponse
	for rows.Next() {
		it := ItemResponse{Owner: owner, AsOfSequence: asOfSeq}
		var uri []byte
		if err := rows.Scan(&it.ItemID, &uri, &it.SoulBound, &it.LastSequence); err != nil {
			return nil, err
		}
		it.TokenURI = string(uri)
		items = append(items, it)
	}
	return items, rows.Err()
}

// ListSales returns open listings by id. A nil seller lists every sale.
func (qs *QueryService) ListSales(ctx context.Context, seller *uuid.UUID, limit int) ([]SaleResponse, error) {
	defer qs.observe("list_sales")()
	query := `
		SELECT sale_id, seller, item_id, payment_asset, price, last_sequence
		FROM projections.sales`
	args := []interface{}{}
	if seller != nil {
		query += ` WHERE seller = $1`
		args = append(args, *seller)
	}
	query += fmt.Sprintf(` ORDER BY sale_id LIMIT $%d`, len(args)+1)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sales []SaleResponse
	for rows.Next() {
		var s SaleResponse
		if err := rows.Scan(&s.SaleID, &s.Seller, &s.ItemID, &s.PaymentAsset, &s.Price, &s.LastSequence); err != nil {
			return nil, err
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

// GetJournalHistory pages through the journal entries touching an
// account, newest first. A cursor of zero starts at the newest entry.
func (qs *QueryService) GetJournalHistory(ctx context.Context, account uuid.UUID, limit int, cursor int64) (*JournalPage, error) {
	defer qs.observe("journal_history")()
	limit = clampLimit(limit)
	pattern := accountPattern(account)

	query := `
		SELECT journal_id, batch_id, event_ref, sequence,
		       debit_account, credit_account, asset_id, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)`
	args := []interface{}{pattern}
	if cursor > 0 {
		query += ` AND sequence < $2`
		args = append(args, cursor)
	}
	query += fmt.Sprintf(` ORDER BY sequence DESC, journal_id LIMIT $%d`, len(args)+1)
	// One extra row tells whether another page exists.
	args = append(args, limit+1)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &JournalPage{}
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.AssetID, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		page.Entries = append(page.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page.Entries) > limit {
		page.Entries = trimToBatch(page.Entries[:limit], page.Entries[limit].Sequence)
		page.NextCursor = page.Entries[len(page.Entries)-1].Sequence
	}
	return page, nil
}

// trimToBatch drops the trailing entries of the sequence that continues on
// the next page, so a batch is never split across pages. A page holding a
// single sequence is kept whole.
func trimToBatch(entries []JournalHistoryEntry, nextSeq int64) []JournalHistoryEntry {
	cut := len(entries)
	for cut > 0 && entries[cut-1].Sequence == nextSeq {
		cut--
	}
	if cut == 0 {
		return entries
	}
	return entries[:cut]
}

// accountPattern matches the user and system paths of an account.
func accountPattern(account uuid.UUID) string {
	path := ledger.KeyFor(account, 0).AccountPath()
	return path[:len(path)-1] + "%"
}

// GetNotifications returns stored notifications after a sequence, oldest
// first.
func (qs *QueryService) GetNotifications(ctx context.Context, afterSequence int64, limit int) ([]NotificationEntry, error) {
	defer qs.observe("notifications")()
	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, idx, kind, payload FROM event_log.notifications
		WHERE sequence > $1
		ORDER BY sequence, idx
		LIMIT $2
	`, afterSequence, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []NotificationEntry
	for rows.Next() {
		var n NotificationEntry
		if err := rows.Scan(&n.Sequence, &n.Index, &n.Kind, &n.Payload); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity walks the hash chain of the event log and checks that
// the projected balances of every asset net to zero. Issuance accounts
// carry the negated supply, so a healthy asset sums to exactly zero.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer qs.observe("verify_integrity")()
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT sequence, state_hash, prev_hash FROM event_log.events ORDER BY sequence
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	genesis := core.GenesisHash()
	var tip []byte
	for rows.Next() {
		var seq int64
		var stateHash, prevHash []byte
		if err := rows.Scan(&seq, &stateHash, &prevHash); err != nil {
			return nil, err
		}
		expected := tip
		if expected == nil {
			expected = genesis[:]
		}
		if !bytes.Equal(prevHash, expected) {
			report.HashChainBreaks = append(report.HashChainBreaks, seq)
		}
		tip = stateHash
		report.EventsChecked++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset_id, SUM(balance)::TEXT
		FROM projections.balances
		GROUP BY asset_id
		HAVING SUM(balance) != 0
		ORDER BY asset_id
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var u UnbalancedAsset
		if err := balanceRows.Scan(&u.AssetID, &u.Imbalance); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, u)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return -1, nil
	}
	return seq, err
}

func (qs *QueryService) observe(method string) func() {
	if qs.metrics == nil {
		return func() {}
	}
	qs.metrics.QueryRequests.WithLabelValues(method).Inc()
	timer := prometheus.NewTimer(qs.metrics.QueryDuration.WithLabelValues(method))
	return func() { timer.ObserveDuration() }
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	}
	return limit
}
