package payload

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testProtocol = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testUSD      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testAPT      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	fixedNow     = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

func testDeployment() *protocol.Deployment {
	return protocol.NewDeployment("testnet", 1337, testProtocol,
		[]protocol.Token{
			{Symbol: "mUSD", Address: testUSD, Decimals: 6},
			{Symbol: "APT", Address: testAPT, Decimals: 8},
		},
		[]string{"BTCPERP", "ETHPERP"},
	)
}

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(testDeployment(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return b
}

func btcLong() model.OpenPosition {
	return model.OpenPosition{
		Market:      "BTCPERP",
		MarginToken: "mUSD",
		Margin:      decimal.NewFromInt(1000),
		Size:        decimal.RequireFromString("0.1"),
		Side:        model.SideLong,
		EntryPrice:  decimal.NewFromInt(101000),
		SlippageBps: 1000,
		TakeProfit:  model.Price("105000"),
		StopLoss:    model.Price("95000"),
	}
}

func decodeArgs(t *testing.T, d *Descriptor) []interface{} {
	t.Helper()
	parsed, err := protocol.ABI()
	require.NoError(t, err)
	method, ok := parsed.Methods[d.Method()]
	require.True(t, ok, "method %s", d.Method())
	data := d.Data()
	require.Equal(t, method.ID, data[:4])
	args, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	return args
}

func assertInvalidIntent(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.InvalidIntent), "want INVALID_INTENT, got %v", err)
}

func TestBuildOpenPosition_Long(t *testing.T) {
	b := newTestBuilder(t)

	d, err := b.Build(btcLong())
	require.NoError(t, err)

	assert.Equal(t, model.KindOpenPosition, d.Kind())
	assert.Equal(t, testProtocol, d.To())
	assert.Equal(t, protocol.MethodOpenPosition, d.Method())
	assert.Equal(t, 0, d.Value().Sign())

	args := decodeArgs(t, d)
	require.Len(t, args, 10)
	assert.Equal(t, [32]byte(protocol.MarketID("BTCPERP")), args[0])
	assert.Equal(t, testUSD, args[1])
	assert.Equal(t, protocol.OrderTypeMarket, args[2])
	assert.Equal(t, big.NewInt(1_000_000_000), args[3]) // 1000 mUSD @ 6 decimals
	assert.Equal(t, big.NewInt(10_000_000), args[4])    // 0.1 @ 8 decimals
	assert.Equal(t, true, args[5])
	assert.Equal(t, big.NewInt(10_100_000_000_000), args[6])
	assert.Equal(t, big.NewInt(1000), args[7])
	assert.Equal(t, big.NewInt(10_500_000_000_000), args[8])
	assert.Equal(t, big.NewInt(9_500_000_000_000), args[9])
}

func TestBuildOpenPosition_Short(t *testing.T) {
	b := newTestBuilder(t)
	in := btcLong()
	in.Side = model.SideShort
	in.TakeProfit = model.Price("95000")
	in.StopLoss = model.Price("105000")

	d, err := b.Build(in)
	require.NoError(t, err)
	args := decodeArgs(t, d)
	assert.Equal(t, false, args[5])
	assert.Equal(t, big.NewInt(9_500_000_000_000), args[8])
	assert.Equal(t, big.NewInt(10_500_000_000_000), args[9])
}

func TestBuildOpenPosition_OptionalTriggers(t *testing.T) {
	b := newTestBuilder(t)
	in := btcLong()
	in.TakeProfit = nil
	in.StopLoss = nil

	d, err := b.Build(in)
	require.NoError(t, err)
	args := decodeArgs(t, d)
	assert.Equal(t, 0, args[8].(*big.Int).Sign())
	assert.Equal(t, 0, args[9].(*big.Int).Sign())
}

func TestBuildOpenPosition_TriggerOrdering(t *testing.T) {
	b := newTestBuilder(t)

	tests := []struct {
		name string
		side model.Side
		tp   *decimal.Decimal
		sl   *decimal.Decimal
	}{
		{"long tp below entry", model.SideLong, model.Price("100000"), nil},
		{"long tp equal entry", model.SideLong, model.Price("101000"), nil},
		{"long sl above entry", model.SideLong, nil, model.Price("102000")},
		{"short tp above entry", model.SideShort, model.Price("105000"), nil},
		{"short sl below entry", model.SideShort, nil, model.Price("95000")},
		{"zero tp", model.SideLong, model.Price("0"), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := btcLong()
			in.Side = tt.side
			in.TakeProfit = tt.tp
			in.StopLoss = tt.sl
			_, err := b.Build(in)
			assertInvalidIntent(t, err)
		})
	}
}

func TestBuildOpenPosition_InvalidFields(t *testing.T) {
	b := newTestBuilder(t)

	tests := []struct {
		name   string
		mutate func(*model.OpenPosition)
	}{
		{"zero margin", func(p *model.OpenPosition) { p.Margin = decimal.Zero }},
		{"negative size", func(p *model.OpenPosition) { p.Size = decimal.NewFromInt(-1) }},
		{"zero entry", func(p *model.OpenPosition) { p.EntryPrice = decimal.Zero }},
		{"negative slippage", func(p *model.OpenPosition) { p.SlippageBps = -1 }},
		{"unknown market", func(p *model.OpenPosition) { p.Market = "DOGEPERP" }},
		{"unknown margin token", func(p *model.OpenPosition) { p.MarginToken = "XYZ" }},
		{"bad side", func(p *model.OpenPosition) { p.Side = "UP" }},
		{"margin too precise", func(p *model.OpenPosition) { p.Margin = decimal.RequireFromString("1.0000001") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := btcLong()
			tt.mutate(&in)
			_, err := b.Build(in)
			assertInvalidIntent(t, err)
		})
	}
}

func TestBuild_Deterministic(t *testing.T) {
	b := newTestBuilder(t)

	d1, err := b.Build(btcLong())
	require.NoError(t, err)
	in := btcLong()
	d2, err := b.Build(&in)
	require.NoError(t, err)

	assert.True(t, d1.Equal(d2))
	assert.Equal(t, d1.Checksum(), d2.Checksum())
}

func TestBuildPlaceLimitOrder(t *testing.T) {
	b := newTestBuilder(t)
	expiry := fixedNow.Add(time.Hour)

	d, err := b.Build(model.PlaceLimitOrder{
		Market:        "ethperp",
		MarginToken:   "mUSD",
		Margin:        decimal.NewFromInt(50),
		Size:          decimal.NewFromInt(2),
		Side:          model.SideShort,
		TriggerPrice:  decimal.NewFromInt(4000),
		SlippageBps:   30,
		TriggersAbove: true,
		Expiration:    expiry,
		StopLoss:      model.Price("4200"),
	})
	require.NoError(t, err)
	assert.Equal(t, model.KindPlaceLimitOrder, d.Kind())

	args := decodeArgs(t, d)
	require.Len(t, args, 12)
	assert.Equal(t, [32]byte(protocol.MarketID("ETHPERP")), args[0])
	assert.Equal(t, big.NewInt(50_000_000), args[2])
	assert.Equal(t, false, args[4])
	assert.Equal(t, big.NewInt(400_000_000_000), args[5])
	assert.Equal(t, true, args[7])
	assert.Equal(t, false, args[8])
	assert.Equal(t, uint64(expiry.Unix()), args[9])
	assert.Equal(t, 0, args[10].(*big.Int).Sign())
	assert.Equal(t, big.NewInt(420_000_000_000), args[11])
}

func TestBuildPlaceLimitOrder_Expiration(t *testing.T) {
	b := newTestBuilder(t)
	base := model.PlaceLimitOrder{
		Market:       "BTCPERP",
		MarginToken:  "mUSD",
		Margin:       decimal.NewFromInt(10),
		Size:         decimal.NewFromInt(1),
		Side:         model.SideLong,
		TriggerPrice: decimal.NewFromInt(90000),
	}

	for name, exp := range map[string]time.Time{
		"zero":   {},
		"past":   fixedNow.Add(-time.Second),
		"now":    fixedNow,
		"future": fixedNow.Add(time.Second),
	} {
		t.Run(name, func(t *testing.T) {
			in := base
			in.Expiration = exp
			_, err := b.Build(in)
			if name == "future" {
				assert.NoError(t, err)
				return
			}
			assertInvalidIntent(t, err)
		})
	}
}

func TestBuildCreateVaultAndBorrow(t *testing.T) {
	b := newTestBuilder(t)

	d, err := b.Build(model.CreateVaultAndBorrow{
		CollateralToken: "APT",
		BorrowToken:     "mUSD",
		Collateral:      decimal.RequireFromString("0.1"),
		Borrow:          decimal.RequireFromString("0.01"),
	})
	require.NoError(t, err)
	assert.Equal(t, protocol.MethodCreateVaultAndBorrow, d.Method())

	args := decodeArgs(t, d)
	require.Len(t, args, 5)
	assert.Equal(t, [32]byte(protocol.CollectionID("APT", "mUSD")), args[0])
	assert.Equal(t, testAPT, args[1])
	assert.Equal(t, testUSD, args[2])
	assert.Equal(t, big.NewInt(10_000_000), args[3])
	assert.Equal(t, big.NewInt(10_000), args[4])
}

func TestBuildCreateVaultAndBorrow_Invalid(t *testing.T) {
	b := newTestBuilder(t)
	valid := model.CreateVaultAndBorrow{
		CollateralToken: "APT",
		BorrowToken:     "mUSD",
		Collateral:      decimal.NewFromInt(1),
		Borrow:          decimal.NewFromInt(1),
	}

	tests := []struct {
		name   string
		mutate func(*model.CreateVaultAndBorrow)
	}{
		{"zero collateral", func(v *model.CreateVaultAndBorrow) { v.Collateral = decimal.Zero }},
		{"zero borrow", func(v *model.CreateVaultAndBorrow) { v.Borrow = decimal.Zero }},
		{"unknown collateral", func(v *model.CreateVaultAndBorrow) { v.CollateralToken = "SOL" }},
		{"same token", func(v *model.CreateVaultAndBorrow) { v.BorrowToken = "APT" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := valid
			tt.mutate(&in)
			_, err := b.Build(in)
			assertInvalidIntent(t, err)
		})
	}
}

func TestBuildAddCollateralAndBorrow(t *testing.T) {
	b := newTestBuilder(t)

	d, err := b.Build(model.AddCollateralAndBorrow{
		VaultID:         42,
		CollateralToken: "APT",
		BorrowToken:     "mUSD",
		Collateral:      decimal.NewFromInt(2),
		Borrow:          decimal.NewFromInt(3),
	})
	require.NoError(t, err)

	args := decodeArgs(t, d)
	require.Len(t, args, 3)
	assert.Equal(t, big.NewInt(42), args[0])
	assert.Equal(t, big.NewInt(200_000_000), args[1])
	assert.Equal(t, big.NewInt(3_000_000), args[2])

	_, err = b.Build(model.AddCollateralAndBorrow{CollateralToken: "APT", BorrowToken: "mUSD",
		Collateral: decimal.NewFromInt(1), Borrow: decimal.NewFromInt(1)})
	assertInvalidIntent(t, err)
}

func TestDescriptor_ConsumeOnce(t *testing.T) {
	b := newTestBuilder(t)
	d, err := b.Build(btcLong())
	require.NoError(t, err)

	require.NoError(t, d.Consume())
	assert.True(t, d.Consumed())
	assertInvalidIntent(t, d.Consume())

	// 副本不受影响
	data := d.Data()
	data[0] ^= 0xff
	assert.NotEqual(t, data[0], d.Data()[0])
}

func TestDescriptor_Preview(t *testing.T) {
	b := newTestBuilder(t)
	d, err := b.Build(btcLong())
	require.NoError(t, err)

	p := d.Preview()
	assert.Equal(t, model.KindOpenPosition, p.Kind)
	assert.Equal(t, testProtocol.Hex(), p.To)
	assert.Equal(t, "0", p.Value)
	assert.Equal(t, d.Checksum().Hex(), p.Checksum)
	assert.False(t, d.Consumed())
}
