package projection

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"DexLedger/internal/core"
	"DexLedger/internal/observability"
	"DexLedger/internal/persistence"

	"github.com/rs/zerolog"
)

const workerID = "main"

// ProjectionWorker keeps the projections schema in step with the core.
// The projection channel is non-blocking with drop: when this worker falls
// behind, Rebuild restores the tables from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	watermark atomic.Int64
	metrics   *observability.Metrics
	logger    zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	pw := &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		metrics:   metrics,
		logger:    observability.NewLogger("projection"),
	}
	pw.watermark.Store(-1)
	return pw
}

// LoadWatermark reads the last applied sequence. Outputs at or below it
// are skipped, which makes startup replay harmless.
func (pw *ProjectionWorker) LoadWatermark(ctx context.Context) error {
	var seq sql.NullInt64
	err := pw.db.QueryRowContext(ctx,
		`SELECT last_sequence FROM projections.watermark WHERE worker_id = $1`, workerID,
	).Scan(&seq)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("load watermark: %w", err)
	}
	if seq.Valid {
		pw.watermark.Store(seq.Int64)
	}
	return nil
}

// Watermark returns the last applied sequence, -1 before the first.
func (pw *ProjectionWorker) Watermark() int64 {
	return pw.watermark.Load()
}

// Run applies outputs until ctx is cancelled or the input closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			watermark := pw.watermark.Load()
			if output.Envelope == nil || output.Envelope.Sequence <= watermark {
				continue
			}
			seq := output.Envelope.Sequence
			if seq != watermark+1 && watermark >= 0 {
				// Outputs were dropped; the tables now lag the log.
				pw.logger.Warn().Int64("watermark", watermark).Int64("sequence", seq).Msg("projection gap")
			}

			start := time.Now()
			if err := pw.apply(ctx, output); err != nil {
				// Eventually consistent: keep going, a rebuild repairs it.
				pw.logger.Warn().Err(err).Int64("sequence", seq).Msg("projection update failed")
				continue
			}
			pw.watermark.Store(seq)
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(output.Envelope.EventType.String()).Observe(time.Since(start).Seconds())
			}
		}
	}
}

func (pw *ProjectionWorker) apply(ctx context.Context, output core.CoreOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seq := output.Envelope.Sequence
	for _, j := range persistence.JournalRowsFromBatch(output.Batch) {
		if err := moveBalance(ctx, tx, j, seq); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}
	for _, a := range output.Assets {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.assets (asset_id, symbol, decimals, min_balance, owner, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (asset_id) DO UPDATE
				SET symbol = $2, decimals = $3, min_balance = $4, owner = $5, last_sequence = $6
		`, uint32(a.ID), a.Symbol, a.Decimals, a.MinBalance, a.Owner, seq); err != nil {
			return fmt.Errorf("asset projection: %w", err)
		}
	}
	for _, p := range output.Pools {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pools
				(pool_id, asset_a, asset_b, lp_token, constant_k, fee_numerator, fee_denominator,
				 total_a, total_b, total_lp, last_sequence)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (pool_id) DO UPDATE
				SET constant_k = $5, total_a = $8, total_b = $9, total_lp = $10, last_sequence = $11
		`, uint32(p.Pool.ID), uint32(p.Pool.AssetA), uint32(p.Pool.AssetB), uint32(p.Pool.LPToken),
			p.Pool.ConstantK, p.Pool.FeeNumerator, p.Pool.FeeDenominator,
			p.Custody.TotalA, p.Custody.TotalB, p.Custody.TotalLP, seq); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}
	for _, it := range output.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.items (item_id, owner, token_uri, soul_bound, last_sequence)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (item_id) DO UPDATE SET owner = $2, last_sequence = $5
		`, int64(it.ID), it.Owner, it.TokenURI, it.SoulBound, seq); err != nil {
			return fmt.Errorf("item projection: %w", err)
		}
	}
	for _, s := range output.Sales {
		if err := applySale(ctx, tx, s, seq); err != nil {
			return fmt.Errorf("sale projection: %w", err)
		}
	}
	for _, p := range output.Prices {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.prices (asset_id, price, reporter, last_sequence)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (asset_id) DO UPDATE SET price = $2, reporter = $3, last_sequence = $4
		`, uint32(p.AssetID), p.Price, p.Reporter, seq); err != nil {
			return fmt.Errorf("price projection: %w", err)
		}
	}

	if err := setWatermark(ctx, tx, seq); err != nil {
		return err
	}
	return tx.Commit()
}

// moveBalance debits and credits the two sides of one journal. The debit
// account is the one whose balance increases.
func moveBalance(ctx context.Context, tx *sql.Tx, j persistence.JournalRow, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC, last_sequence = $4
	`, j.DebitAccount, j.AssetID, j.Amount, seq); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		VALUES ($1, $2, -$3::NUMERIC, $4)
		ON CONFLICT (account_path, asset_id)
		DO UPDATE SET balance = projections.balances.balance - $3::NUMERIC, last_sequence = $4
	`, j.CreditAccount, j.AssetID, j.Amount, seq)
	return err
}

func applySale(ctx context.Context, tx *sql.Tx, s core.SaleUpdate, seq int64) error {
	if s.Sale == nil {
		_, err := tx.ExecContext(ctx, `DELETE FROM projections.sales WHERE sale_id = $1`, int64(s.ID))
		return err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.sales (sale_id, seller, item_id, payment_asset, price, last_sequence)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (sale_id) DO UPDATE
			SET seller = $2, item_id = $3, payment_asset = $4, price = $5, last_sequence = $6
	`, int64(s.ID), s.Sale.Seller, int64(s.Sale.ItemID), uint32(s.Sale.PaymentAsset), s.Sale.Price, seq)
	return err
}

func setWatermark(ctx context.Context, ex persistence.Execer, seq int64) error {
	if _, err := ex.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $2, updated_at = NOW()
	`, workerID, seq); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}
	return nil
}

// Rebuild recomputes the balance projection from event_log.journal and
// moves the watermark to the end of the log. Pool, item and sale rows are
// kept current by the worker itself; they are restored by replaying the
// log through a core with the projection channel attached.
func Rebuild(ctx context.Context, db *sql.DB) error {
	logger := observability.NewLogger("projection")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `TRUNCATE projections.balances`); err != nil {
		return fmt.Errorf("truncate balances: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset_id, balance, last_sequence)
		SELECT account_path, asset_id, SUM(delta), MAX(sequence)
		FROM (
			SELECT debit_account AS account_path, asset_id, amount AS delta, sequence FROM event_log.journal
			UNION ALL
			SELECT credit_account AS account_path, asset_id, -amount AS delta, sequence FROM event_log.journal
		) moves
		GROUP BY account_path, asset_id
	`); err != nil {
		return fmt.Errorf("rebuild balances: %w", err)
	}

	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(sequence) FROM event_log.events`).Scan(&last); err != nil {
		return fmt.Errorf("log tip: %w", err)
	}
	if last.Valid {
		if err := setWatermark(ctx, tx, last.Int64); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	logger.Info().Int64("sequence", last.Int64).Msg("balance projection rebuilt")
	return nil
}
