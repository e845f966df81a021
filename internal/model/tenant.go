package model

import "github.com/GoPolymarket/perpgate/internal/signer"

// RiskConfig 定义租户维度的风控规则
type RiskConfig struct {
	MaxMargin         float64  `json:"max_margin"`          // 单笔最大保证金
	MaxLeverage       float64  `json:"max_leverage"`        // 最大杠杆 (名义价值 / 保证金)
	MaxBorrow         float64  `json:"max_borrow"`          // 单笔最大借款
	MaxDailyNotional  float64  `json:"max_daily_notional"`  // 单日最大名义价值
	MaxDailyOrders    int      `json:"max_daily_orders"`    // 单日最大提交数
	MaxPriceDeviation float64  `json:"max_price_deviation"` // 相对标记价格的最大偏离 (0.05 = 5%)
	RestrictedMarkets []string `json:"restricted_markets"`  // 禁止交易的市场
}

// RateLimitConfig 定义租户的限流规则
type RateLimitConfig struct {
	QPS   float64 `json:"qps"`
	Burst int     `json:"burst"`
}

// Tenant 代表一个接入方 (Bot, 客户)，Identity 为其签名身份
type Tenant struct {
	ID       string           `json:"id"`
	Name     string           `json:"name"`
	ApiKey   string           `json:"-"`
	Identity *signer.Identity `json:"-"`
	Risk     RiskConfig       `json:"risk"`
	Rate     RateLimitConfig  `json:"rate_limit"`
}

// Address is the tenant's signing address, or "" when it has no identity.
func (t *Tenant) Address() string {
	if t == nil || !t.Identity.Valid() {
		return ""
	}
	return t.Identity.Address().Hex()
}
