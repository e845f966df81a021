package service

import (
	"fmt"
	"sync"

	"github.com/GoPolymarket/perpgate/internal/config"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/signer"
	"golang.org/x/time/rate"
)

const DefaultTenantID = "default-tenant"

// TenantManager 管理租户信息、签名身份以及限流器
type TenantManager struct {
	mu            sync.RWMutex
	tenants       map[string]*model.Tenant // Key: Gateway ApiKey
	limiters      map[string]*rate.Limiter // Key: TenantID
	defaultTenant *model.Tenant
}

// NewTenantManager derives every configured tenant's identity. Key material
// is only read here and handed to the signer.
func NewTenantManager(cfg *config.Config) (*TenantManager, error) {
	tm := &TenantManager{
		tenants:  make(map[string]*model.Tenant),
		limiters: make(map[string]*rate.Limiter),
	}

	// 配置化租户 (优先)
	if len(cfg.Tenants) > 0 {
		for _, tenantCfg := range cfg.Tenants {
			if tenantCfg.ID == "" || tenantCfg.APIKey == "" {
				return nil, fmt.Errorf("tenant %q: id and api_key are required", tenantCfg.Name)
			}
			tenant := &model.Tenant{
				ID:     tenantCfg.ID,
				Name:   tenantCfg.Name,
				ApiKey: tenantCfg.APIKey,
				Risk:   mergeRisk(cfg.Risk, tenantCfg.Risk),
				Rate: model.RateLimitConfig{
					QPS:   chooseFloat(10, tenantCfg.QPS),
					Burst: chooseInt(20, tenantCfg.Burst),
				},
			}
			if tenantCfg.PrivateKey != "" {
				id, err := signer.DeriveIdentity(tenantCfg.PrivateKey)
				if err != nil {
					return nil, fmt.Errorf("tenant %s: %w", tenantCfg.ID, err)
				}
				tenant.Identity = id
			}
			tm.RegisterTenant(tenant)
		}
		return tm, nil
	}

	// 初始化默认租户（兼容单租户模式）
	defaultTenant := &model.Tenant{
		ID:     DefaultTenantID,
		Name:   "Default User",
		ApiKey: cfg.Auth.APIKey,
		Risk:   mergeRisk(cfg.Risk, config.RiskConfig{}),
		Rate: model.RateLimitConfig{
			QPS:   10, // 默认 10 QPS
			Burst: 20,
		},
	}
	if cfg.Signer.PrivateKey != "" {
		id, err := signer.DeriveIdentity(cfg.Signer.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("default signer: %w", err)
		}
		defaultTenant.Identity = id
	}
	tm.RegisterTenant(defaultTenant)
	tm.defaultTenant = defaultTenant
	return tm, nil
}

func (tm *TenantManager) RegisterTenant(t *model.Tenant) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if t == nil {
		return
	}
	tm.tenants[t.ApiKey] = t

	// 初始化限流器
	// 如果配置为0，不限流
	limit := rate.Limit(t.Rate.QPS)
	if limit == 0 {
		limit = rate.Inf
	}
	burst := t.Rate.Burst
	if burst == 0 {
		burst = 1
	}
	tm.limiters[t.ID] = rate.NewLimiter(limit, burst)
}

func (tm *TenantManager) GetTenantByID(id string) (*model.Tenant, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	for _, tenant := range tm.tenants {
		if tenant != nil && tenant.ID == id {
			return tenant, true
		}
	}
	return nil, false
}

func (tm *TenantManager) ListTenants() []*model.Tenant {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	results := make([]*model.Tenant, 0, len(tm.tenants))
	for _, tenant := range tm.tenants {
		if tenant != nil {
			results = append(results, tenant)
		}
	}
	return results
}

func (tm *TenantManager) GetTenantByApiKey(apiKey string) (*model.Tenant, bool) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.tenants[apiKey]
	return t, ok
}

func (tm *TenantManager) DefaultTenant() *model.Tenant {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.defaultTenant
}

// GetLimiterForTenant 获取租户的限流器
func (tm *TenantManager) GetLimiterForTenant(tenantID string) *rate.Limiter {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.limiters[tenantID]
}

func mergeRisk(base, override config.RiskConfig) model.RiskConfig {
	return model.RiskConfig{
		MaxMargin:         chooseFloat(base.MaxMargin, override.MaxMargin),
		MaxLeverage:       chooseFloat(base.MaxLeverage, override.MaxLeverage),
		MaxBorrow:         chooseFloat(base.MaxBorrow, override.MaxBorrow),
		MaxDailyNotional:  chooseFloat(base.MaxDailyNotional, override.MaxDailyNotional),
		MaxDailyOrders:    chooseInt(base.MaxDailyOrders, override.MaxDailyOrders),
		MaxPriceDeviation: chooseFloat(base.MaxPriceDeviation, override.MaxPriceDeviation),
		RestrictedMarkets: chooseStringSlice(base.RestrictedMarkets, override.RestrictedMarkets),
	}
}

func chooseFloat(base, override float64) float64 {
	if override > 0 {
		return override
	}
	return base
}

func chooseStringSlice(base, override []string) []string {
	if len(override) > 0 {
		return override
	}
	return base
}

func chooseInt(base, override int) int {
	if override > 0 {
		return override
	}
	return base
}
