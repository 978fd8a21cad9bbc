package core

import (
	"errors"

	"DexLedger/internal/dex"
	"DexLedger/internal/ledger"
	"DexLedger/internal/market"
	"DexLedger/internal/nft"
	"DexLedger/internal/state"
)

// errorKinds maps sentinel errors to stable tags. Order matters where one
// package wraps another's error: the outer sentinel is listed first.
var errorKinds = []struct {
	err  error
	kind string
}{
	{dex.ErrDexNotFound, "dex_not_found"},
	{dex.ErrPoolExists, "pool_exists"},
	{dex.ErrInsufficientBalance, "insufficient_balance"},
	{dex.ErrInvalidPair, "invalid_pair"},
	{dex.ErrInvalidFee, "invalid_fee"},
	{dex.ErrUnequalPair, "unequal_pair"},
	{dex.ErrTokenNotInPool, "token_not_in_pool"},
	{dex.ErrSwapExceedsFunds, "swap_exceeds_funds"},
	{dex.ErrUnableToSwap, "unable_to_swap"},
	{dex.ErrInvalidAmount, "invalid_amount"},
	{dex.ErrMinimumLiquidity, "minimum_liquidity"},
	{dex.ErrAssetDoesNotExist, "asset_does_not_exist"},
	{dex.ErrNotAuthorized, "not_authorized"},

	{market.ErrInvalidPrice, "invalid_price"},
	{market.ErrUnauthorized, "unauthorized"},
	{market.ErrAssetDoesNotExist, "asset_does_not_exist"},
	{market.ErrSaleNotFound, "sale_not_found"},
	{market.ErrInsufficientBalance, "insufficient_balance"},
	{market.ErrItemTransferFailed, "item_transfer_failed"},
	{market.ErrSaleExists, "sale_exists"},
	{market.ErrItemAlreadyListed, "item_already_listed"},

	{nft.ErrTokenURITooLong, "token_uri_too_long"},
	{nft.ErrEmptyTokenURI, "empty_token_uri"},
	{nft.ErrItemNotFound, "item_not_found"},
	{nft.ErrUnauthorized, "unauthorized"},
	{nft.ErrItemTransferFailed, "item_transfer_failed"},

	{state.ErrNotAuthorized, "not_authorized"},
	{state.ErrInvalidPrice, "invalid_price"},

	{ledger.ErrAssetNotFound, "asset_does_not_exist"},
	{ledger.ErrAssetExists, "asset_exists"},
	{ledger.ErrInvalidAssetID, "invalid_asset"},
	{ledger.ErrInvalidSymbol, "invalid_asset"},
	{ledger.ErrInsufficientFunds, "insufficient_balance"},
	{ledger.ErrWouldKillAccount, "would_kill_account"},
	{ledger.ErrSupplyOverflow, "supply_overflow"},

	{ErrNotAuthorized, "not_authorized"},
	{ErrSystemCaller, "not_authorized"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrUnknownEvent, "unknown_event"},
	{ErrEmptyIdempotent, "invalid_event"},
	{ErrReplayDiverged, "replay_diverged"},
	{ErrSequenceGap, "sequence_gap"},
	{ErrOutOfOrder, "out_of_order"},
}

// ErrorKind returns the stable tag of err, "internal" when it is not a
// known domain error.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}
