package service

import (
	"math/big"
	"testing"
	"time"

	"github.com/GoPolymarket/perpgate/internal/chain/chaintest"
	"github.com/GoPolymarket/perpgate/internal/market"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/payload"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/GoPolymarket/perpgate/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	testProtocol = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testUSD      = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testAPT      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func testDeployment() *protocol.Deployment {
	return protocol.NewDeployment("testnet", chaintest.ChainID, testProtocol,
		[]protocol.Token{
			{Symbol: "mUSD", Address: testUSD, Decimals: 6},
			{Symbol: "APT", Address: testAPT, Decimals: 8},
		},
		[]string{"BTCPERP", "ETHPERP"},
	)
}

func newIdentity(t *testing.T) *signer.Identity {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	id, err := signer.FromKey(key)
	require.NoError(t, err)
	return id
}

func newBuilder(t *testing.T) *payload.Builder {
	t.Helper()
	b, err := payload.NewBuilder(testDeployment())
	require.NoError(t, err)
	return b
}

func build(t *testing.T, b *payload.Builder, intent model.Intent) *payload.Descriptor {
	t.Helper()
	d, err := b.Build(intent)
	require.NoError(t, err)
	return d
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

func aptVault() model.CreateVaultAndBorrow {
	return model.CreateVaultAndBorrow{
		CollateralToken: "APT",
		BorrowToken:     "mUSD",
		Collateral:      decimal.RequireFromString("0.1"),
		Borrow:          decimal.RequireFromString("0.01"),
	}
}

func fixed(t *testing.T, s string, decimals int32) *big.Int {
	t.Helper()
	v, err := protocol.ToFixed(decimal.RequireFromString(s), decimals)
	require.NoError(t, err)
	return v
}

// stubPrices is a market.Provider backed by a PriceBook.
type stubPrices struct {
	*market.PriceBook
}

func newStubPrices() *stubPrices {
	return &stubPrices{PriceBook: market.NewPriceBook()}
}

func (s *stubPrices) set(symbol, mark string, at time.Time) {
	s.Update(market.Price{Symbol: symbol, Mark: decimal.RequireFromString(mark), LastUpdated: at})
}

func (s *stubPrices) Subscribe([]string) {}
func (s *stubPrices) Start()             {}
func (s *stubPrices) Stop()              {}

func (s *stubPrices) GetPrice(symbol string) (market.Price, bool) {
	return s.Get(symbol)
}
