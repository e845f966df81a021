package payload

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/shopspring/decimal"
)

// Builder turns intents into protocol call descriptors. It performs no I/O;
// the clock is only read to check order expirations.
type Builder struct {
	deployment *protocol.Deployment
	abi        abi.ABI
	now        func() time.Time
}

type Option func(*Builder)

func WithClock(now func() time.Time) Option {
	return func(b *Builder) {
		if now != nil {
			b.now = now
		}
	}
}

func NewBuilder(deployment *protocol.Deployment, opts ...Option) (*Builder, error) {
	if deployment == nil {
		return nil, fmt.Errorf("deployment is required")
	}
	parsed, err := protocol.ABI()
	if err != nil {
		return nil, fmt.Errorf("failed to parse protocol abi: %w", err)
	}
	b := &Builder{deployment: deployment, abi: parsed, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

func (b *Builder) Deployment() *protocol.Deployment {
	return b.deployment
}

// Build validates intent and encodes it. Every failure is INVALID_INTENT.
func (b *Builder) Build(intent model.Intent) (*Descriptor, error) {
	switch v := intent.(type) {
	case model.OpenPosition:
		return b.openPosition(v)
	case *model.OpenPosition:
		return b.openPosition(*v)
	case model.PlaceLimitOrder:
		return b.limitOrder(v)
	case *model.PlaceLimitOrder:
		return b.limitOrder(*v)
	case model.CreateVaultAndBorrow:
		return b.createVault(v)
	case *model.CreateVaultAndBorrow:
		return b.createVault(*v)
	case model.AddCollateralAndBorrow:
		return b.addCollateral(v)
	case *model.AddCollateralAndBorrow:
		return b.addCollateral(*v)
	default:
		return nil, apperrors.NewInvalidIntent("unsupported intent %T", intent)
	}
}

func (b *Builder) openPosition(in model.OpenPosition) (*Descriptor, error) {
	market, marginToken, err := b.resolveMarket(in.Market, in.MarginToken)
	if err != nil {
		return nil, err
	}
	if err := requirePositive("margin", in.Margin); err != nil {
		return nil, err
	}
	if err := requirePositive("size", in.Size); err != nil {
		return nil, err
	}
	if err := requirePositive("entry price", in.EntryPrice); err != nil {
		return nil, err
	}
	if err := validateSlippage(in.SlippageBps); err != nil {
		return nil, err
	}
	if err := validateTriggers(in.Side, in.EntryPrice, in.TakeProfit, in.StopLoss); err != nil {
		return nil, err
	}

	enc := newEncoder()
	margin := enc.fixed("margin", in.Margin, marginToken.Decimals)
	size := enc.fixed("size", in.Size, protocol.PriceDecimals)
	entry := enc.fixed("entry price", in.EntryPrice, protocol.PriceDecimals)
	tp := enc.optional("take profit", in.TakeProfit)
	sl := enc.optional("stop loss", in.StopLoss)
	if enc.err != nil {
		return nil, enc.err
	}

	return b.pack(model.KindOpenPosition, protocol.MethodOpenPosition,
		[32]byte(market),
		marginToken.Address,
		protocol.OrderTypeMarket,
		margin,
		size,
		in.Side == model.SideLong,
		entry,
		big.NewInt(in.SlippageBps),
		tp,
		sl,
	)
}

func (b *Builder) limitOrder(in model.PlaceLimitOrder) (*Descriptor, error) {
	market, marginToken, err := b.resolveMarket(in.Market, in.MarginToken)
	if err != nil {
		return nil, err
	}
	if err := requirePositive("margin", in.Margin); err != nil {
		return nil, err
	}
	if err := requirePositive("size", in.Size); err != nil {
		return nil, err
	}
	if err := requirePositive("trigger price", in.TriggerPrice); err != nil {
		return nil, err
	}
	if err := validateSlippage(in.SlippageBps); err != nil {
		return nil, err
	}
	if in.Expiration.IsZero() || !in.Expiration.After(b.now()) {
		return nil, apperrors.NewInvalidIntent("expiration %s is not in the future", in.Expiration.UTC().Format(time.RFC3339))
	}
	if err := validateTriggers(in.Side, in.TriggerPrice, in.TakeProfit, in.StopLoss); err != nil {
		return nil, err
	}

	enc := newEncoder()
	margin := enc.fixed("margin", in.Margin, marginToken.Decimals)
	size := enc.fixed("size", in.Size, protocol.PriceDecimals)
	trigger := enc.fixed("trigger price", in.TriggerPrice, protocol.PriceDecimals)
	tp := enc.optional("take profit", in.TakeProfit)
	sl := enc.optional("stop loss", in.StopLoss)
	if enc.err != nil {
		return nil, enc.err
	}

	return b.pack(model.KindPlaceLimitOrder, protocol.MethodPlaceLimitOrder,
		[32]byte(market),
		marginToken.Address,
		margin,
		size,
		in.Side == model.SideLong,
		trigger,
		big.NewInt(in.SlippageBps),
		in.TriggersAbove,
		in.DecreaseOnly,
		uint64(in.Expiration.Unix()),
		tp,
		sl,
	)
}

func (b *Builder) createVault(in model.CreateVaultAndBorrow) (*Descriptor, error) {
	collateral, borrow, err := b.resolvePair(in.CollateralToken, in.BorrowToken)
	if err != nil {
		return nil, err
	}
	if err := requirePositive("collateral", in.Collateral); err != nil {
		return nil, err
	}
	if err := requirePositive("borrow", in.Borrow); err != nil {
		return nil, err
	}

	enc := newEncoder()
	collateralAmt := enc.fixed("collateral", in.Collateral, collateral.Decimals)
	borrowAmt := enc.fixed("borrow", in.Borrow, borrow.Decimals)
	if enc.err != nil {
		return nil, enc.err
	}

	return b.pack(model.KindCreateVaultAndBorrow, protocol.MethodCreateVaultAndBorrow,
		[32]byte(protocol.CollectionID(collateral.Symbol, borrow.Symbol)),
		collateral.Address,
		borrow.Address,
		collateralAmt,
		borrowAmt,
	)
}

func (b *Builder) addCollateral(in model.AddCollateralAndBorrow) (*Descriptor, error) {
	if in.VaultID == 0 {
		return nil, apperrors.NewInvalidIntent("vault id must be positive")
	}
	collateral, borrow, err := b.resolvePair(in.CollateralToken, in.BorrowToken)
	if err != nil {
		return nil, err
	}
	if err := requirePositive("collateral", in.Collateral); err != nil {
		return nil, err
	}
	if err := requirePositive("borrow", in.Borrow); err != nil {
		return nil, err
	}

	enc := newEncoder()
	collateralAmt := enc.fixed("collateral", in.Collateral, collateral.Decimals)
	borrowAmt := enc.fixed("borrow", in.Borrow, borrow.Decimals)
	if enc.err != nil {
		return nil, enc.err
	}

	return b.pack(model.KindAddCollateralAndBorrow, protocol.MethodAddCollateralAndBorrow,
		new(big.Int).SetUint64(in.VaultID),
		collateralAmt,
		borrowAmt,
	)
}

func (b *Builder) pack(kind model.IntentKind, method string, args ...interface{}) (*Descriptor, error) {
	data, err := b.abi.Pack(method, args...)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrInvalidIntent, fmt.Sprintf("failed to encode %s", method), err)
	}
	return &Descriptor{
		kind:   kind,
		to:     b.deployment.Protocol,
		method: method,
		data:   data,
		value:  new(big.Int),
	}, nil
}

func (b *Builder) resolveMarket(market, marginSymbol string) ([32]byte, protocol.Token, error) {
	id, ok := b.deployment.Market(market)
	if !ok {
		return [32]byte{}, protocol.Token{}, apperrors.NewInvalidIntent("unknown market %q on %s", market, b.deployment.Network)
	}
	token, ok := b.deployment.Token(marginSymbol)
	if !ok {
		return [32]byte{}, protocol.Token{}, apperrors.NewInvalidIntent("unknown margin token %q on %s", marginSymbol, b.deployment.Network)
	}
	return id, token, nil
}

func (b *Builder) resolvePair(collateralSymbol, borrowSymbol string) (protocol.Token, protocol.Token, error) {
	collateral, ok := b.deployment.Token(collateralSymbol)
	if !ok {
		return protocol.Token{}, protocol.Token{}, apperrors.NewInvalidIntent("unknown collateral token %q on %s", collateralSymbol, b.deployment.Network)
	}
	borrow, ok := b.deployment.Token(borrowSymbol)
	if !ok {
		return protocol.Token{}, protocol.Token{}, apperrors.NewInvalidIntent("unknown borrow token %q on %s", borrowSymbol, b.deployment.Network)
	}
	if collateral.Address == borrow.Address {
		return protocol.Token{}, protocol.Token{}, apperrors.NewInvalidIntent("collateral and borrow token must differ")
	}
	return collateral, borrow, nil
}

func requirePositive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return apperrors.NewInvalidIntent("%s must be positive, got %s", field, v)
	}
	return nil
}

func validateSlippage(bps int64) error {
	if bps < 0 {
		return apperrors.NewInvalidIntent("slippage must be >= 0 bps, got %d", bps)
	}
	return nil
}

// validateTriggers enforces the side-specific ordering of take-profit and
// stop-loss around the entry price:
//
//	LONG:  takeProfit > entry > stopLoss
//	SHORT: stopLoss > entry > takeProfit
func validateTriggers(side model.Side, entry decimal.Decimal, takeProfit, stopLoss *decimal.Decimal) error {
	if takeProfit != nil && !takeProfit.IsPositive() {
		return apperrors.NewInvalidIntent("take profit must be positive, got %s", takeProfit)
	}
	if stopLoss != nil && !stopLoss.IsPositive() {
		return apperrors.NewInvalidIntent("stop loss must be positive, got %s", stopLoss)
	}
	switch side {
	case model.SideLong:
		if takeProfit != nil && !takeProfit.GreaterThan(entry) {
			return apperrors.NewInvalidIntent("take profit %s must be above entry %s for LONG", takeProfit, entry)
		}
		if stopLoss != nil && !stopLoss.LessThan(entry) {
			return apperrors.NewInvalidIntent("stop loss %s must be below entry %s for LONG", stopLoss, entry)
		}
	case model.SideShort:
		if takeProfit != nil && !takeProfit.LessThan(entry) {
			return apperrors.NewInvalidIntent("take profit %s must be below entry %s for SHORT", takeProfit, entry)
		}
		if stopLoss != nil && !stopLoss.GreaterThan(entry) {
			return apperrors.NewInvalidIntent("stop loss %s must be above entry %s for SHORT", stopLoss, entry)
		}
	default:
		return apperrors.NewInvalidIntent("side must be LONG or SHORT, got %q", strings.TrimSpace(string(side)))
	}
	return nil
}

// encoder collects the first fixed-point conversion error.
type encoder struct {
	err error
}

func newEncoder() *encoder { return &encoder{} }

func (e *encoder) fixed(field string, v decimal.Decimal, decimals int32) *big.Int {
	if e.err != nil {
		return nil
	}
	out, err := protocol.ToFixed(v, decimals)
	if err != nil {
		e.err = apperrors.NewInvalidIntent("%s: %v", field, err)
		return nil
	}
	return out
}

func (e *encoder) optional(field string, v *decimal.Decimal) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return e.fixed(field, *v, protocol.PriceDecimals)
}
