package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

const defaultListLimit = 100

// querier is the subset of pgxpool.Pool the store needs.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// EstimateStore implements domain.EstimateStore. Decimal columns travel as
// text so no precision is lost on either side.
type EstimateStore struct {
	db querier
}

// NewEstimateStore creates a store backed by pool.
func NewEstimateStore(pool *pgxpool.Pool) *EstimateStore {
	return &EstimateStore{db: pool}
}

const estimateSelectCols = `id::text, symbol, source,
	requested_quantity::text, filled_quantity::text, vwap::text, best_ask::text,
	slippage::text, fee::text, fee_rate::text, market_impact::text, net_cost::text,
	fully_filled, levels_consumed, confidence, reasoning, sequence, latency_ns,
	book_timestamp, computed_at`

// Insert stores est. Its ID must be a UUID.
func (s *EstimateStore) Insert(ctx context.Context, est domain.CostEstimate) error {
	const query = `
		INSERT INTO estimates (
			id, symbol, source,
			requested_quantity, filled_quantity, vwap, best_ask,
			slippage, fee, fee_rate, market_impact, net_cost,
			fully_filled, levels_consumed, confidence, reasoning,
			sequence, latency_ns, book_timestamp, computed_at
		) VALUES (
			$1::uuid, $2, $3,
			$4::numeric, $5::numeric, $6::numeric, $7::numeric,
			$8::numeric, $9::numeric, $10::numeric, $11::numeric, $12::numeric,
			$13, $14, $15, $16,
			$17, $18, $19, $20
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.db.Exec(ctx, query,
		est.ID, est.Symbol, est.Source,
		est.RequestedQuantity.String(), est.FilledQuantity.String(), est.VWAP.String(), est.BestAsk.String(),
		est.Slippage.String(), est.Fee.String(), est.FeeRate.String(), est.MarketImpact.String(), est.NetCost.String(),
		est.FullyFilled, est.LevelsConsumed, string(est.Confidence), est.Reasoning,
		int64(est.Sequence), est.Latency.Nanoseconds(), est.BookTimestamp, est.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert estimate %s: %w", est.ID, err)
	}
	return nil
}

// GetByID returns domain.ErrNotFound for an unknown id.
func (s *EstimateStore) GetByID(ctx context.Context, id string) (domain.CostEstimate, error) {
	row := s.db.QueryRow(ctx, `SELECT `+estimateSelectCols+` FROM estimates WHERE id = $1::uuid`, id)
	est, err := scanEstimate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CostEstimate{}, fmt.Errorf("postgres: estimate %s: %w", id, domain.ErrNotFound)
		}
		return domain.CostEstimate{}, fmt.Errorf("postgres: get estimate %s: %w", id, err)
	}
	return est, nil
}

// List returns estimates for symbol, newest first.
func (s *EstimateStore) List(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.CostEstimate, error) {
	query, args := buildListQuery(symbol, opts)
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list estimates: %w", err)
	}
	defer rows.Close()

	var out []domain.CostEstimate
	for rows.Next() {
		est, err := scanEstimate(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan estimate: %w", err)
		}
		out = append(out, est)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list estimates: %w", err)
	}
	return out, nil
}

// DeleteBefore removes estimates computed before the cutoff.
func (s *EstimateStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM estimates WHERE computed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete estimates before %v: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func buildListQuery(symbol string, opts domain.ListOpts) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if symbol != "" {
		add("symbol = $%d", symbol)
	}
	if opts.Since != nil {
		add("computed_at >= $%d", *opts.Since)
	}
	if opts.Until != nil {
		add("computed_at < $%d", *opts.Until)
	}

	var b strings.Builder
	b.WriteString("SELECT " + estimateSelectCols + " FROM estimates")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY computed_at DESC")

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	fmt.Fprintf(&b, " LIMIT $%d", len(args))
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func scanEstimate(row pgx.Row) (domain.CostEstimate, error) {
	var (
		est        domain.CostEstimate
		nums       [9]string
		confidence string
		sequence   int64
		latencyNs  int64
	)
	if err := row.Scan(
		&est.ID, &est.Symbol, &est.Source,
		&nums[0], &nums[1], &nums[2], &nums[3],
		&nums[4], &nums[5], &nums[6], &nums[7], &nums[8],
		&est.FullyFilled, &est.LevelsConsumed, &confidence, &est.Reasoning,
		&sequence, &latencyNs, &est.BookTimestamp, &est.ComputedAt,
	); err != nil {
		return domain.CostEstimate{}, err
	}

	targets := []*decimal.Decimal{
		&est.RequestedQuantity, &est.FilledQuantity, &est.VWAP, &est.BestAsk,
		&est.Slippage, &est.Fee, &est.FeeRate, &est.MarketImpact, &est.NetCost,
	}
	for i, dst := range targets {
		v, err := decimal.NewFromString(nums[i])
		if err != nil {
			return domain.CostEstimate{}, fmt.Errorf("decode numeric column %d: %w", i, err)
		}
		*dst = v
	}
	est.Confidence = domain.Confidence(confidence)
	est.Sequence = uint64(sequence)
	est.Latency = time.Duration(latencyNs)
	est.MakerTakerProportion = domain.MakerTakerUnavailable
	return est, nil
}

var _ domain.EstimateStore = (*EstimateStore)(nil)
