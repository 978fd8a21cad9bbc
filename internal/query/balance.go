package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"DexLedger/internal/ledger"
	fpmath "DexLedger/internal/math"

	"github.com/google/uuid"
)

// BalanceResponse represents an account balance for API queries
type BalanceResponse struct {
	Account      uuid.UUID      `json:"account"`
	AccountPath  string         `json:"account_path"`
	AssetID      uint32         `json:"asset_id"`
	Balance      fpmath.Balance `json:"balance"`
	LastSequence int64          `json:"last_sequence"`  // last event that moved it
	AsOfSequence int64          `json:"as_of_sequence"` // projection watermark
}

// GetBalance returns an account's projected balance of one asset. System
// accounts resolve to their system path. An account never credited reads
// as zero.
func (qs *QueryService) GetBalance(ctx context.Context, account uuid.UUID, assetID ledger.AssetID) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	path := ledger.KeyFor(account, assetID).AccountPath()
	resp := &BalanceResponse{
		Account:      account,
		AccountPath:  path,
		AssetID:      uint32(assetID),
		Balance:      fpmath.ZeroBalance,
		AsOfSequence: asOfSeq,
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT balance, last_sequence FROM projections.balances
		WHERE account_path = $1 AND asset_id = $2
	`, path, uint32(assetID)).Scan(&resp.Balance, &resp.LastSequence)
	if errors.Is(err, sql.ErrNoRows) {
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}
