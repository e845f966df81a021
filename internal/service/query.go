package service

import (
	"context"
	"fmt"
	"iter"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/perpgate/internal/chain"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// QueryService reads positions and vaults through the protocol's view
// functions. Nothing is cached; every call hits the chain.
type QueryService struct {
	chain      chain.Client
	deployment *protocol.Deployment
	abi        abi.ABI
}

func NewQueryService(client chain.Client, deployment *protocol.Deployment) (*QueryService, error) {
	parsed, err := protocol.ABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse protocol abi: %w", err)
	}
	return &QueryService{chain: client, deployment: deployment, abi: parsed}, nil
}

// QueryPositions lists account's open positions in markets, or in every
// market of the deployment when none are given. The id listing for a market
// is read when iteration reaches it, each position when it is yielded. The
// sequence can be ranged once; re-invoke to refresh.
func (q *QueryService) QueryPositions(ctx context.Context, account common.Address, markets ...string) iter.Seq2[*model.PositionSnapshot, error] {
	var used atomic.Bool
	return func(yield func(*model.PositionSnapshot, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(nil, apperrors.New(apperrors.ErrInvalidRequest, "position sequence already consumed; query again to refresh", nil))
			return
		}
		if len(markets) == 0 {
			markets = q.deployment.Markets()
		}
		for _, market := range markets {
			marketID, ok := q.deployment.Market(market)
			if !ok {
				if !yield(nil, apperrors.NewInvalidIntent("unknown market %q", market)) {
					return
				}
				continue
			}

			var ids []*big.Int
			if err := q.call(ctx, &ids, protocol.ViewPositionIDs, account, [32]byte(marketID)); err != nil {
				yield(nil, err)
				return
			}
			for _, id := range ids {
				if !id.IsUint64() {
					yield(nil, apperrors.New(apperrors.ErrInternal, fmt.Sprintf("position id %s out of range", id), nil))
					return
				}
				snap, err := q.position(ctx, id.Uint64())
				if apperrors.TypeOf(err) == apperrors.ErrNotFound {
					// closed between listing and read
					continue
				}
				if !yield(snap, err) || err != nil {
					return
				}
			}
		}
	}
}

// QueryPosition returns the base fields of one position.
func (q *QueryService) QueryPosition(ctx context.Context, positionID uint64) (*model.PositionSnapshot, error) {
	return q.position(ctx, positionID)
}

// QueryPositionInfo adds the protocol-computed risk fields at the given
// mark and quote prices.
func (q *QueryService) QueryPositionInfo(ctx context.Context, positionID uint64, markPrice, quotePrice decimal.Decimal) (*model.PositionSnapshot, error) {
	snap, marginDecimals, err := q.readPosition(ctx, positionID)
	if err != nil {
		return nil, err
	}
	mark, err := protocol.ToFixed(markPrice, protocol.PriceDecimals)
	if err != nil {
		return nil, apperrors.NewInvalidIntent("mark price: %v", err)
	}
	quote, err := protocol.ToFixed(quotePrice, protocol.PriceDecimals)
	if err != nil {
		return nil, apperrors.NewInvalidIntent("quote price: %v", err)
	}

	var out struct {
		Exists             bool
		LiquidationPrice   *big.Int
		MaintenanceMargin  *big.Int
		FundingOutstanding *big.Int
		UnrealizedPnl      *big.Int
		Leverage           *big.Int
	}
	if err := q.call(ctx, &out, protocol.ViewPositionInfo, new(big.Int).SetUint64(positionID), mark, quote); err != nil {
		return nil, err
	}
	if !out.Exists {
		return nil, apperrors.NewNotFound(fmt.Sprintf("position %d not found", positionID))
	}

	snap.MarkPrice = &markPrice
	snap.QuotePrice = &quotePrice
	snap.LiquidationPrice = fixedPtr(out.LiquidationPrice, protocol.PriceDecimals)
	snap.MaintenanceMargin = fixedPtr(out.MaintenanceMargin, marginDecimals)
	snap.FundingOutstanding = fixedPtr(out.FundingOutstanding, marginDecimals)
	snap.UnrealizedPnl = fixedPtr(out.UnrealizedPnl, marginDecimals)
	snap.Leverage = fixedPtr(out.Leverage, protocol.PriceDecimals)
	return snap, nil
}

func (q *QueryService) QueryVault(ctx context.Context, vaultID uint64) (*model.VaultSnapshot, error) {
	var out struct {
		Exists           bool
		Owner            common.Address
		CollateralToken  common.Address
		BorrowToken      common.Address
		Collateral       *big.Int
		Borrowed         *big.Int
		LiquidationPrice *big.Int
		HealthFactor     *big.Int
	}
	if err := q.call(ctx, &out, protocol.ViewVault, new(big.Int).SetUint64(vaultID)); err != nil {
		return nil, err
	}
	if !out.Exists {
		return nil, apperrors.NewNotFound(fmt.Sprintf("vault %d not found", vaultID))
	}

	collateral, collateralDecimals := q.tokenInfo(out.CollateralToken)
	borrow, borrowDecimals := q.tokenInfo(out.BorrowToken)
	return &model.VaultSnapshot{
		ID:               vaultID,
		Owner:            out.Owner.Hex(),
		CollateralToken:  collateral,
		BorrowToken:      borrow,
		Collateral:       protocol.FromFixed(out.Collateral, collateralDecimals),
		Borrowed:         protocol.FromFixed(out.Borrowed, borrowDecimals),
		LiquidationPrice: protocol.FromFixed(out.LiquidationPrice, protocol.PriceDecimals),
		HealthFactor:     protocol.FromFixed(out.HealthFactor, protocol.PriceDecimals),
	}, nil
}

func (q *QueryService) position(ctx context.Context, positionID uint64) (*model.PositionSnapshot, error) {
	snap, _, err := q.readPosition(ctx, positionID)
	return snap, err
}

func (q *QueryService) readPosition(ctx context.Context, positionID uint64) (*model.PositionSnapshot, int32, error) {
	var out struct {
		Exists      bool
		MarketID    [32]byte `abi:"marketId"`
		Owner       common.Address
		MarginToken common.Address
		IsLong      bool
		Margin      *big.Int
		Size        *big.Int
		EntryPrice  *big.Int
		TakeProfit  *big.Int
		StopLoss    *big.Int
		OpenedAt    uint64
	}
	if err := q.call(ctx, &out, protocol.ViewPosition, new(big.Int).SetUint64(positionID)); err != nil {
		return nil, 0, err
	}
	if !out.Exists {
		return nil, 0, apperrors.NewNotFound(fmt.Sprintf("position %d not found", positionID))
	}

	marginSymbol, marginDecimals := q.tokenInfo(out.MarginToken)
	side := model.SideShort
	if out.IsLong {
		side = model.SideLong
	}
	snap := &model.PositionSnapshot{
		ID:          positionID,
		Market:      q.deployment.MarketSymbol(out.MarketID),
		Owner:       out.Owner.Hex(),
		MarginToken: marginSymbol,
		Side:        side,
		Margin:      protocol.FromFixed(out.Margin, marginDecimals),
		Size:        protocol.FromFixed(out.Size, protocol.PriceDecimals),
		EntryPrice:  protocol.FromFixed(out.EntryPrice, protocol.PriceDecimals),
		OpenedAt:    time.Unix(int64(out.OpenedAt), 0).UTC(),
	}
	if out.TakeProfit != nil && out.TakeProfit.Sign() > 0 {
		snap.TakeProfit = fixedPtr(out.TakeProfit, protocol.PriceDecimals)
	}
	if out.StopLoss != nil && out.StopLoss.Sign() > 0 {
		snap.StopLoss = fixedPtr(out.StopLoss, protocol.PriceDecimals)
	}
	return snap, marginDecimals, nil
}

// call packs a view call, runs it and unpacks the outputs into out.
func (q *QueryService) call(ctx context.Context, out interface{}, method string, args ...interface{}) error {
	data, err := q.abi.Pack(method, args...)
	if err != nil {
		return apperrors.NewInvalidIntent("failed to encode %s: %v", method, err)
	}
	raw, err := q.chain.QueryView(ctx, q.deployment.Protocol, data)
	if err != nil {
		return err
	}
	if err := q.abi.UnpackIntoInterface(out, method, raw); err != nil {
		return apperrors.NewChainUnavailable(fmt.Sprintf("malformed %s response", method), err)
	}
	return nil
}

func (q *QueryService) tokenInfo(addr common.Address) (string, int32) {
	if token, ok := q.deployment.TokenByAddress(addr); ok {
		return token.Symbol, token.Decimals
	}
	return addr.Hex(), protocol.PriceDecimals
}

func fixedPtr(v *big.Int, decimals int32) *decimal.Decimal {
	d := protocol.FromFixed(v, decimals)
	return &d
}
