package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/GoPolymarket/perpgate/internal/market"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/GoPolymarket/perpgate/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

type UsageRepo interface {
	GetDailyUsage(ctx context.Context, tenantID string) (int, float64, error)
	AddDailyUsage(ctx context.Context, tenantID string, orders int, amount float64) error
}

type RiskEngine struct {
	repo       UsageRepo
	prices     market.Provider
	staleAfter time.Duration
	now        func() time.Time
}

// NewRiskEngine builds the pre-trade checks. prices may be nil, in which
// case the mark deviation check is skipped.
func NewRiskEngine(repo UsageRepo, prices market.Provider, staleAfter time.Duration) *RiskEngine {
	if repo == nil {
		repo = NewRiskUsageStore()
	}
	return &RiskEngine{repo: repo, prices: prices, staleAfter: staleAfter, now: time.Now}
}

// CheckIntent 执行提交前的所有风控检查
// 如果返回 error，则必须拒绝该意图
func (e *RiskEngine) CheckIntent(ctx context.Context, tenant *model.Tenant, intent model.Intent) error {
	cfg := tenant.Risk

	switch v := intent.(type) {
	case model.OpenPosition:
		if err := e.checkPosition(cfg, v.Market, v.Margin, v.Size, v.EntryPrice); err != nil {
			return err
		}
		// 市价单：入场价相对标记价格的偏离
		if err := e.checkDeviation(cfg, v.Market, v.EntryPrice, v.SlippageBps); err != nil {
			return err
		}
	case model.PlaceLimitOrder:
		if err := e.checkPosition(cfg, v.Market, v.Margin, v.Size, v.TriggerPrice); err != nil {
			return err
		}
	case model.CreateVaultAndBorrow:
		if err := checkBorrow(cfg, v.Borrow); err != nil {
			return err
		}
	case model.AddCollateralAndBorrow:
		if err := checkBorrow(cfg, v.Borrow); err != nil {
			return err
		}
	}

	// 每日限额检查 (Daily Limit)
	if cfg.MaxDailyNotional > 0 || cfg.MaxDailyOrders > 0 {
		currentOrders, currentNotional, err := e.repo.GetDailyUsage(ctx, tenant.ID)
		if err != nil {
			return apperrors.New(apperrors.ErrInternal, "risk check failed", err)
		}
		n := notional(intent)
		if cfg.MaxDailyNotional > 0 && currentNotional+n > cfg.MaxDailyNotional {
			return reject("daily_notional_limit", "daily notional limit exceeded (curr: %.2f, new: %.2f, max: %.2f)",
				currentNotional, n, cfg.MaxDailyNotional)
		}
		if cfg.MaxDailyOrders > 0 && currentOrders+1 > cfg.MaxDailyOrders {
			return reject("daily_order_limit", "daily order limit exceeded (curr: %d, max: %d)",
				currentOrders, cfg.MaxDailyOrders)
		}
	}
	return nil
}

// PostSubmitHook 交易上链后调用，用于更新风控用量
func (e *RiskEngine) PostSubmitHook(ctx context.Context, tenant *model.Tenant, intent model.Intent) {
	if err := e.repo.AddDailyUsage(ctx, tenant.ID, 1, notional(intent)); err != nil {
		logger.Warn("Failed to record daily usage", "tenant", tenant.ID, "error", err)
	}
}

func (e *RiskEngine) checkPosition(cfg model.RiskConfig, market string, margin, size, price decimal.Decimal) error {
	// 黑名单市场检查 (Restricted Markets)
	for _, restricted := range cfg.RestrictedMarkets {
		if strings.EqualFold(strings.TrimSpace(restricted), strings.TrimSpace(market)) {
			return reject("restricted_market", "market %s is restricted", market)
		}
	}
	if cfg.MaxMargin > 0 && margin.GreaterThan(decimal.NewFromFloat(cfg.MaxMargin)) {
		return reject("max_margin", "margin %s exceeds limit %.2f", margin, cfg.MaxMargin)
	}
	if cfg.MaxLeverage > 0 && margin.IsPositive() {
		leverage := size.Mul(price).Div(margin)
		if leverage.GreaterThan(decimal.NewFromFloat(cfg.MaxLeverage)) {
			return reject("max_leverage", "leverage %s exceeds limit %.2f", leverage.StringFixed(2), cfg.MaxLeverage)
		}
	}
	return nil
}

// checkDeviation rejects an entry price further from the mark than both the
// configured deviation and the intent's own slippage allow. Markets without
// a feed price are not checked.
func (e *RiskEngine) checkDeviation(cfg model.RiskConfig, market string, entry decimal.Decimal, slippageBps int64) error {
	if e.prices == nil || cfg.MaxPriceDeviation <= 0 {
		return nil
	}
	price, ok := e.prices.GetPrice(market)
	if !ok {
		return nil
	}
	if price.Stale(e.now(), e.staleAfter) {
		return reject("stale_data", "mark price for %s is stale (>%s), cannot verify entry price", market, e.staleAfter)
	}
	limit := decimal.NewFromFloat(cfg.MaxPriceDeviation)
	if bps := decimal.New(slippageBps, -4); bps.GreaterThan(limit) {
		limit = bps
	}
	deviation := entry.Sub(price.Mark).Abs().Div(price.Mark)
	if deviation.GreaterThan(limit) {
		return reject("price_deviation", "entry %s deviates %s%% from mark %s (limit %s%%)",
			entry, deviation.Shift(2).StringFixed(2), price.Mark, limit.Shift(2).StringFixed(2))
	}
	return nil
}

func checkBorrow(cfg model.RiskConfig, borrow decimal.Decimal) error {
	if cfg.MaxBorrow > 0 && borrow.GreaterThan(decimal.NewFromFloat(cfg.MaxBorrow)) {
		return reject("max_borrow", "borrow %s exceeds limit %.2f", borrow, cfg.MaxBorrow)
	}
	return nil
}

// notional is the quote-denominated exposure an intent adds.
func notional(intent model.Intent) float64 {
	switch v := intent.(type) {
	case model.OpenPosition:
		return v.Size.Mul(v.EntryPrice).InexactFloat64()
	case model.PlaceLimitOrder:
		return v.Size.Mul(v.TriggerPrice).InexactFloat64()
	case model.CreateVaultAndBorrow:
		return v.Borrow.InexactFloat64()
	case model.AddCollateralAndBorrow:
		return v.Borrow.InexactFloat64()
	}
	return 0
}

func reject(reason, format string, args ...any) error {
	metrics.IntentRejects.WithLabelValues(reason).Inc()
	return apperrors.NewRiskReject(fmt.Sprintf(format, args...))
}
