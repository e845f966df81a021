package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OpenPositionRequest is the JSON body of POST /v1/positions.
type OpenPositionRequest struct {
	Market      string           `json:"market" binding:"required"`
	MarginToken string           `json:"margin_token" binding:"required"`
	Margin      decimal.Decimal  `json:"margin"`
	Size        decimal.Decimal  `json:"size"`
	Side        string           `json:"side" binding:"required"` // LONG or SHORT
	EntryPrice  decimal.Decimal  `json:"entry_price"`
	SlippageBps int64            `json:"slippage_bps"`
	TakeProfit  *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss    *decimal.Decimal `json:"stop_loss,omitempty"`
}

func (r OpenPositionRequest) ToIntent() (Intent, error) {
	side, err := ParseSide(r.Side)
	if err != nil {
		return nil, err
	}
	return OpenPosition{
		Market:      r.Market,
		MarginToken: r.MarginToken,
		Margin:      r.Margin,
		Size:        r.Size,
		Side:        side,
		EntryPrice:  r.EntryPrice,
		SlippageBps: r.SlippageBps,
		TakeProfit:  r.TakeProfit,
		StopLoss:    r.StopLoss,
	}, nil
}

// LimitOrderRequest is the JSON body of POST /v1/orders.
type LimitOrderRequest struct {
	Market        string           `json:"market" binding:"required"`
	MarginToken   string           `json:"margin_token" binding:"required"`
	Margin        decimal.Decimal  `json:"margin"`
	Size          decimal.Decimal  `json:"size"`
	Side          string           `json:"side" binding:"required"`
	TriggerPrice  decimal.Decimal  `json:"trigger_price"`
	SlippageBps   int64            `json:"slippage_bps"`
	TriggersAbove bool             `json:"triggers_above"`
	DecreaseOnly  bool             `json:"decrease_only"`
	Expiration    int64            `json:"expiration"` // unix seconds
	TakeProfit    *decimal.Decimal `json:"take_profit,omitempty"`
	StopLoss      *decimal.Decimal `json:"stop_loss,omitempty"`
}

func (r LimitOrderRequest) ToIntent() (Intent, error) {
	side, err := ParseSide(r.Side)
	if err != nil {
		return nil, err
	}
	return PlaceLimitOrder{
		Market:        r.Market,
		MarginToken:   r.MarginToken,
		Margin:        r.Margin,
		Size:          r.Size,
		Side:          side,
		TriggerPrice:  r.TriggerPrice,
		SlippageBps:   r.SlippageBps,
		TriggersAbove: r.TriggersAbove,
		DecreaseOnly:  r.DecreaseOnly,
		Expiration:    time.Unix(r.Expiration, 0).UTC(),
		TakeProfit:    r.TakeProfit,
		StopLoss:      r.StopLoss,
	}, nil
}

// VaultRequest is the JSON body of POST /v1/vaults and POST /v1/vaults/:id/borrow.
type VaultRequest struct {
	CollateralToken string          `json:"collateral_token" binding:"required"`
	BorrowToken     string          `json:"borrow_token" binding:"required"`
	Collateral      decimal.Decimal `json:"collateral"`
	Borrow          decimal.Decimal `json:"borrow"`
}

func (r VaultRequest) ToCreateIntent() Intent {
	return CreateVaultAndBorrow{
		CollateralToken: r.CollateralToken,
		BorrowToken:     r.BorrowToken,
		Collateral:      r.Collateral,
		Borrow:          r.Borrow,
	}
}

func (r VaultRequest) ToAddIntent(vaultID uint64) Intent {
	return AddCollateralAndBorrow{
		VaultID:         vaultID,
		CollateralToken: r.CollateralToken,
		BorrowToken:     r.BorrowToken,
		Collateral:      r.Collateral,
		Borrow:          r.Borrow,
	}
}

// PreviewRequest wraps any intent for POST /v1/payloads.
type PreviewRequest struct {
	Kind     IntentKind           `json:"kind" binding:"required"`
	Position *OpenPositionRequest `json:"position,omitempty"`
	Order    *LimitOrderRequest   `json:"order,omitempty"`
	Vault    *VaultRequest        `json:"vault,omitempty"`
	VaultID  uint64               `json:"vault_id,omitempty"`
}

// PayloadPreview is the build-only response: the encoded call, never signed.
type PayloadPreview struct {
	Kind     IntentKind `json:"kind"`
	To       string     `json:"to"`
	Method   string     `json:"method"`
	Data     string     `json:"data"`
	Value    string     `json:"value"`
	Checksum string     `json:"checksum"`
}
