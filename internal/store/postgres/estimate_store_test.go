package postgres

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/bookcost/internal/domain"
)

// fakeRow scans a fixed list of values into the destinations.
type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return fmt.Errorf("scan: want %d destinations, got %d", len(r.values), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *bool:
			*p = r.values[i].(bool)
		case *int:
			*p = r.values[i].(int)
		case *int64:
			*p = r.values[i].(int64)
		case *time.Time:
			*p = r.values[i].(time.Time)
		default:
			return fmt.Errorf("scan: unsupported destination %T", d)
		}
	}
	return nil
}

type fakeDB struct {
	execSQL  string
	execArgs []any
	row      pgx.Row
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	if strings.HasPrefix(strings.TrimSpace(sql), "DELETE") {
		return pgconn.NewCommandTag("DELETE 4"), nil
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row { return f.row }

var computed = time.Date(2025, 5, 4, 10, 39, 14, 0, time.UTC)

func rowValues() []any {
	return []any{
		"3f1c2d0e-8c5b-4a7e-9b0a-1a2b3c4d5e6f", "BTC-USDT-SWAP", "walk",
		"2", "2", "100.5", "100",
		"1", "2.01", "0.01", "0", "3.01",
		true, 2, "high", "",
		int64(7), int64(1500), computed.Add(-time.Second), computed,
	}
}

func TestEstimateStoreGetByID(t *testing.T) {
	store := &EstimateStore{db: &fakeDB{row: fakeRow{values: rowValues()}}}

	est, err := store.GetByID(context.Background(), "3f1c2d0e-8c5b-4a7e-9b0a-1a2b3c4d5e6f")
	require.NoError(t, err)
	assert.Equal(t, "BTC-USDT-SWAP", est.Symbol)
	assert.True(t, est.VWAP.Equal(decimal.RequireFromString("100.5")))
	assert.True(t, est.NetCost.Equal(decimal.RequireFromString("3.01")))
	assert.Equal(t, domain.ConfidenceHigh, est.Confidence)
	assert.Equal(t, uint64(7), est.Sequence)
	assert.Equal(t, 1500*time.Nanosecond, est.Latency)
	assert.Equal(t, domain.MakerTakerUnavailable, est.MakerTakerProportion)
}

func TestEstimateStoreGetByIDNotFound(t *testing.T) {
	store := &EstimateStore{db: &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}}
	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEstimateStoreInsertBindsText(t *testing.T) {
	db := &fakeDB{}
	store := &EstimateStore{db: db}
	est := domain.CostEstimate{
		ID:       "3f1c2d0e-8c5b-4a7e-9b0a-1a2b3c4d5e6f",
		Symbol:   "BTC-USDT-SWAP",
		VWAP:     decimal.RequireFromString("95445.51234"),
		Sequence: 3,
		Latency:  2 * time.Millisecond,
	}
	require.NoError(t, store.Insert(context.Background(), est))
	require.Len(t, db.execArgs, 20)
	assert.Equal(t, "95445.51234", db.execArgs[5])
	assert.Equal(t, int64(3), db.execArgs[16])
	assert.Equal(t, int64(2_000_000), db.execArgs[17])
	assert.Contains(t, db.execSQL, "ON CONFLICT (id) DO NOTHING")
}

func TestBuildListQuery(t *testing.T) {
	since := computed.Add(-time.Hour)
	query, args := buildListQuery("BTC-USDT-SWAP", domain.ListOpts{Limit: 20, Offset: 40, Since: &since})

	assert.Contains(t, query, "WHERE symbol = $1 AND computed_at >= $2")
	assert.Contains(t, query, "ORDER BY computed_at DESC LIMIT $3 OFFSET $4")
	assert.Equal(t, []any{"BTC-USDT-SWAP", since, 20, 40}, args)

	query, args = buildListQuery("", domain.ListOpts{})
	assert.NotContains(t, query, "WHERE")
	assert.Equal(t, []any{defaultListLimit}, args)
}

func TestEstimateStoreDeleteBefore(t *testing.T) {
	db := &fakeDB{}
	store := &EstimateStore{db: db}
	n, err := store.DeleteBefore(context.Background(), computed)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
	assert.Equal(t, []any{computed}, db.execArgs)
}
