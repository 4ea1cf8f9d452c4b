package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		price   string
		qty     string
		wantErr bool
	}{
		{"valid", "100.5", "2", false},
		{"padded", " 100 ", " 1.25 ", false},
		{"zero price", "0", "1", true},
		{"negative qty", "100", "-1", true},
		{"garbage price", "abc", "1", true},
		{"empty qty", "100", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lvl, err := ParseLevel(tt.price, tt.qty)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidLevel)
				return
			}
			require.NoError(t, err)
			assert.True(t, lvl.Valid())
		})
	}
}

func TestParseFeeTier(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0.1%", "0.001", false},
		{"0.08 %", "0.0008", false},
		{"0.002", "0.002", false},
		{"0", "0", false},
		{"100%", "", true},
		{"1", "", true},
		{"-0.1%", "", true},
		{"", "", true},
		{"ten", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFeeTier(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}
}

func TestTradeRequestValidate(t *testing.T) {
	ok := TradeRequest{Symbol: "BTC-USDT-SWAP", Quantity: decimal.NewFromInt(1), FeeRate: decimal.RequireFromString("0.001")}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.FeeRate = decimal.NewFromInt(1)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidRequest)

	zeroQty := ok
	zeroQty.Quantity = decimal.Zero
	assert.NoError(t, zeroQty.Validate())
}

func TestSnapshotBestPrices(t *testing.T) {
	snap := OrderBookSnapshot{
		Asks: []PriceLevel{
			{Price: decimal.NewFromInt(102), Quantity: decimal.NewFromInt(1)},
			{Price: decimal.NewFromInt(0), Quantity: decimal.NewFromInt(5)},
			{Price: decimal.NewFromInt(101), Quantity: decimal.NewFromInt(1)},
		},
		Bids: []PriceLevel{
			{Price: decimal.NewFromInt(99), Quantity: decimal.Zero},
			{Price: decimal.NewFromInt(98), Quantity: decimal.NewFromInt(1)},
		},
	}
	ask, ok := snap.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(decimal.NewFromInt(101)))

	bid, ok := snap.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(decimal.NewFromInt(98)))

	_, ok = OrderBookSnapshot{}.BestAsk()
	assert.False(t, ok)
	assert.True(t, OrderBookSnapshot{}.Empty())
}

func TestSnapshotAge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := OrderBookSnapshot{ReceivedAt: now.Add(-3 * time.Second)}
	assert.Equal(t, 3*time.Second, snap.Age(now))
	assert.Zero(t, OrderBookSnapshot{}.Age(now))
}
