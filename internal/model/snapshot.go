package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionSnapshot is a read-only projection of an open position. The
// derived fields are computed by the protocol's view functions and are only
// populated by a position info query.
type PositionSnapshot struct {
	ID          uint64           `json:"id"`
	Market      string           `json:"market"`
	Owner       string           `json:"owner"`
	MarginToken string           `json:"margin_token"`
	Side        Side             `json:"side"`
	Margin      decimal.Decimal  `json:"margin"`
	Size        decimal.Decimal  `json:"size"`
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	TakeProfit  *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
	OpenedAt    time.Time        `json:"opened_at"`

	MarkPrice          *decimal.Decimal `json:"mark_price,omitempty"`
	QuotePrice         *decimal.Decimal `json:"quote_price,omitempty"`
	LiquidationPrice   *decimal.Decimal `json:"liquidation_price,omitempty"`
	MaintenanceMargin  *decimal.Decimal `json:"maintenance_margin,omitempty"`
	FundingOutstanding *decimal.Decimal `json:"funding_outstanding,omitempty"`
	UnrealizedPnl      *decimal.Decimal `json:"unrealized_pnl,omitempty"`
	Leverage           *decimal.Decimal `json:"leverage,omitempty"`
}

type VaultSnapshot struct {
	ID               uint64          `json:"id"`
	Owner            string          `json:"owner"`
	CollateralToken  string          `json:"collateral_token"`
	BorrowToken      string          `json:"borrow_token"`
	Collateral       decimal.Decimal `json:"collateral"`
	Borrowed         decimal.Decimal `json:"borrowed"`
	LiquidationPrice decimal.Decimal `json:"liquidation_price"`
	HealthFactor     decimal.Decimal `json:"health_factor"`
}
