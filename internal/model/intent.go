package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case SideLong:
		return SideLong, nil
	case SideShort:
		return SideShort, nil
	default:
		return "", fmt.Errorf("unknown side %q", raw)
	}
}

type IntentKind string

const (
	KindOpenPosition           IntentKind = "open_position"
	KindPlaceLimitOrder        IntentKind = "place_limit_order"
	KindCreateVaultAndBorrow   IntentKind = "create_vault_and_borrow"
	KindAddCollateralAndBorrow IntentKind = "add_collateral_and_borrow"
)

// Intent is a high-level trading intent. The set of implementations is
// closed: OpenPosition, PlaceLimitOrder, CreateVaultAndBorrow and
// AddCollateralAndBorrow.
type Intent interface {
	Kind() IntentKind
	sealed()
}

// OpenPosition opens a leveraged position at market with optional
// take-profit and stop-loss triggers.
type OpenPosition struct {
	Market      string
	MarginToken string
	Margin      decimal.Decimal
	Size        decimal.Decimal
	Side        Side
	EntryPrice  decimal.Decimal
	SlippageBps int64
	TakeProfit  *decimal.Decimal
	StopLoss    *decimal.Decimal
}

// PlaceLimitOrder places a conditional order that executes when the mark
// price crosses TriggerPrice in the configured direction before Expiration.
type PlaceLimitOrder struct {
	Market        string
	MarginToken   string
	Margin        decimal.Decimal
	Size          decimal.Decimal
	Side          Side
	TriggerPrice  decimal.Decimal
	SlippageBps   int64
	TriggersAbove bool
	DecreaseOnly  bool
	Expiration    time.Time
	TakeProfit    *decimal.Decimal
	StopLoss      *decimal.Decimal
}

// CreateVaultAndBorrow opens a vault for the collateral/borrow pair,
// deposits Collateral and borrows Borrow against it.
type CreateVaultAndBorrow struct {
	CollateralToken string
	BorrowToken     string
	Collateral      decimal.Decimal
	Borrow          decimal.Decimal
}

type AddCollateralAndBorrow struct {
	VaultID         uint64
	CollateralToken string
	BorrowToken     string
	Collateral      decimal.Decimal
	Borrow          decimal.Decimal
}

func (OpenPosition) Kind() IntentKind           { return KindOpenPosition }
func (PlaceLimitOrder) Kind() IntentKind        { return KindPlaceLimitOrder }
func (CreateVaultAndBorrow) Kind() IntentKind   { return KindCreateVaultAndBorrow }
func (AddCollateralAndBorrow) Kind() IntentKind { return KindAddCollateralAndBorrow }

func (OpenPosition) sealed()           {}
func (PlaceLimitOrder) sealed()        {}
func (CreateVaultAndBorrow) sealed()   {}
func (AddCollateralAndBorrow) sealed() {}

// Price is a convenience for optional price fields.
func Price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}
