package service

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/GoPolymarket/perpgate/internal/chain/chaintest"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOwner = common.HexToAddress("0x1111111111111111111111111111111111111111")

func newQuery(t *testing.T, fake *chaintest.Client) *QueryService {
	t.Helper()
	q, err := NewQueryService(fake, testDeployment())
	require.NoError(t, err)
	return q
}

func addBTCPosition(t *testing.T, fake *chaintest.Client, owner common.Address, market string) uint64 {
	t.Helper()
	return fake.AddPosition(chaintest.Position{
		Market:      protocol.MarketID(market),
		Owner:       owner,
		MarginToken: testUSD,
		IsLong:      true,
		Margin:      fixed(t, "1000", 6),
		Size:        fixed(t, "0.1", protocol.PriceDecimals),
		EntryPrice:  fixed(t, "101000", protocol.PriceDecimals),
		TakeProfit:  fixed(t, "105000", protocol.PriceDecimals),
		OpenedAt:    1_767_225_600,
	})
}

func TestQueryPositions_IsLazy(t *testing.T) {
	fake := chaintest.New()
	addBTCPosition(t, fake, testOwner, "BTCPERP")
	addBTCPosition(t, fake, testOwner, "BTCPERP")
	q := newQuery(t, fake)

	seq := q.QueryPositions(context.Background(), testOwner, "BTCPERP", "ETHPERP")
	assert.Zero(t, fake.Calls("QueryView"), "nothing is read before iteration")

	for snap, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, uint64(1), snap.ID)
		break
	}
	// one id listing, one position read
	assert.Equal(t, 2, fake.Calls("QueryView"))
}

func TestQueryPositions_AcrossMarkets(t *testing.T) {
	fake := chaintest.New()
	btc := addBTCPosition(t, fake, testOwner, "BTCPERP")
	eth := addBTCPosition(t, fake, testOwner, "ETHPERP")
	addBTCPosition(t, fake, common.HexToAddress("0x2222222222222222222222222222222222222222"), "BTCPERP")
	q := newQuery(t, fake)

	var ids []uint64
	for snap, err := range q.QueryPositions(context.Background(), testOwner, "BTCPERP", "ETHPERP") {
		require.NoError(t, err)
		assert.Equal(t, testOwner.Hex(), snap.Owner)
		ids = append(ids, snap.ID)
	}
	assert.Equal(t, []uint64{btc, eth}, ids)
}

func TestQueryPositions_NoMarketsMeansEveryMarket(t *testing.T) {
	fake := chaintest.New()
	btc := addBTCPosition(t, fake, testOwner, "BTCPERP")
	eth := addBTCPosition(t, fake, testOwner, "ETHPERP")
	q := newQuery(t, fake)

	var ids []uint64
	for snap, err := range q.QueryPositions(context.Background(), testOwner) {
		require.NoError(t, err)
		ids = append(ids, snap.ID)
	}
	assert.Equal(t, []uint64{btc, eth}, ids)
}

// oversizedIDs lists one position id that does not fit in 64 bits.
type oversizedIDs struct {
	*chaintest.Client
	method abi.Method
}

func (c oversizedIDs) QueryView(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if len(data) >= 4 && bytes.Equal(data[:4], c.method.ID) {
		huge := new(big.Int).Lsh(big.NewInt(1), 64)
		return c.method.Outputs.Pack([]*big.Int{huge})
	}
	return c.Client.QueryView(ctx, to, data)
}

func TestQueryPositions_OversizedIDIsAnError(t *testing.T) {
	parsed, err := protocol.ABI()
	require.NoError(t, err)
	client := oversizedIDs{Client: chaintest.New(), method: parsed.Methods[protocol.ViewPositionIDs]}
	q, err := NewQueryService(client, testDeployment())
	require.NoError(t, err)

	var errs []error
	for snap, err := range q.QueryPositions(context.Background(), testOwner, "BTCPERP") {
		assert.Nil(t, snap)
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.Equal(t, apperrors.ErrInternal, apperrors.TypeOf(errs[0]))
	assert.Zero(t, client.Calls("QueryView"), "no position read for a truncated id")
}

func TestQueryPositions_SingleUse(t *testing.T) {
	fake := chaintest.New()
	addBTCPosition(t, fake, testOwner, "BTCPERP")
	q := newQuery(t, fake)
	seq := q.QueryPositions(context.Background(), testOwner, "BTCPERP")

	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 1, n)

	var second []error
	for snap, err := range seq {
		assert.Nil(t, snap)
		second = append(second, err)
	}
	require.Len(t, second, 1)
	assert.Equal(t, apperrors.ErrInvalidRequest, apperrors.TypeOf(second[0]))
}

func TestQueryPositions_UnknownMarketContinues(t *testing.T) {
	fake := chaintest.New()
	addBTCPosition(t, fake, testOwner, "BTCPERP")
	q := newQuery(t, fake)

	var errs []error
	var snaps []*model.PositionSnapshot
	for snap, err := range q.QueryPositions(context.Background(), testOwner, "DOGEPERP", "BTCPERP") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		snaps = append(snaps, snap)
	}
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], apperrors.InvalidIntent))
	assert.Len(t, snaps, 1)
}

func TestQueryPositions_ChainErrorEndsIteration(t *testing.T) {
	fake := chaintest.New()
	fake.ViewErr = apperrors.NewChainUnavailable("call view failed", errors.New("eof"))
	q := newQuery(t, fake)

	var errs []error
	for _, err := range q.QueryPositions(context.Background(), testOwner, "BTCPERP", "ETHPERP") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.True(t, errors.Is(errs[0], apperrors.ChainUnavailable))
}

func TestQueryPosition_NotFound(t *testing.T) {
	fake := chaintest.New()
	id := addBTCPosition(t, fake, testOwner, "BTCPERP")
	fake.ClosePosition(id)
	q := newQuery(t, fake)

	_, err := q.QueryPosition(context.Background(), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.NotFound))

	_, err = q.QueryPositionInfo(context.Background(), 99, decimal.NewFromInt(100000), decimal.NewFromInt(1))
	assert.True(t, errors.Is(err, apperrors.NotFound))
}

func TestQueryPosition_DecodesFields(t *testing.T) {
	fake := chaintest.New()
	id := addBTCPosition(t, fake, testOwner, "BTCPERP")
	q := newQuery(t, fake)

	snap, err := q.QueryPosition(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "BTCPERP", snap.Market)
	assert.Equal(t, "MUSD", snap.MarginToken)
	assert.Equal(t, model.SideLong, snap.Side)
	assert.Equal(t, "1000", snap.Margin.String())
	assert.Equal(t, "0.1", snap.Size.String())
	assert.Equal(t, "101000", snap.EntryPrice.String())
	require.NotNil(t, snap.TakeProfit)
	assert.Equal(t, "105000", snap.TakeProfit.String())
	assert.Nil(t, snap.StopLoss, "zero trigger means unset")
	assert.Equal(t, int64(1_767_225_600), snap.OpenedAt.Unix())
	assert.Nil(t, snap.LiquidationPrice, "derived fields need a position info query")
}

func TestQueryPositionInfo_DerivedFields(t *testing.T) {
	fake := chaintest.New()
	id := addBTCPosition(t, fake, testOwner, "BTCPERP")
	fake.SetPositionInfo(id, chaintest.PositionInfo{
		LiquidationPrice:   fixed(t, "91900", protocol.PriceDecimals),
		MaintenanceMargin:  fixed(t, "50.5", 6),
		FundingOutstanding: fixed(t, "1.25", 6),
		UnrealizedPnl:      big.NewInt(-100_000_000), // -100 mUSD
		Leverage:           fixed(t, "10.1", protocol.PriceDecimals),
	})
	q := newQuery(t, fake)

	snap, err := q.QueryPositionInfo(context.Background(), id, decimal.NewFromInt(100000), decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, "100000", snap.MarkPrice.String())
	assert.Equal(t, "1", snap.QuotePrice.String())
	assert.Equal(t, "91900", snap.LiquidationPrice.String())
	assert.Equal(t, "50.5", snap.MaintenanceMargin.String())
	assert.Equal(t, "1.25", snap.FundingOutstanding.String())
	assert.Equal(t, "-100", snap.UnrealizedPnl.String())
	assert.Equal(t, "10.1", snap.Leverage.String())
}

func TestQueryVault(t *testing.T) {
	fake := chaintest.New()
	id := fake.AddVault(chaintest.Vault{
		Owner:            testOwner,
		CollateralToken:  testAPT,
		BorrowToken:      testUSD,
		Collateral:       fixed(t, "0.1", 8),
		Borrowed:         fixed(t, "0.01", 6),
		LiquidationPrice: fixed(t, "0.15", protocol.PriceDecimals),
		HealthFactor:     fixed(t, "6.5", protocol.PriceDecimals),
	})
	q := newQuery(t, fake)

	vault, err := q.QueryVault(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "APT", vault.CollateralToken)
	assert.Equal(t, "MUSD", vault.BorrowToken)
	assert.Equal(t, "0.1", vault.Collateral.String())
	assert.Equal(t, "0.01", vault.Borrowed.String())
	assert.Equal(t, "6.5", vault.HealthFactor.String())

	_, err = q.QueryVault(context.Background(), id+1)
	assert.True(t, errors.Is(err, apperrors.NotFound))
}
