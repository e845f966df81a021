package service

import (
	"context"
	"sync"
	"time"
)

// RiskUsageStore 跟踪租户的当日用量（提交数、名义价值），进程内实现
type RiskUsageStore struct {
	mu            sync.RWMutex
	dailyNotional map[string]float64 // Key: TenantID:YYYY-MM-DD
	dailyOrders   map[string]int
	now           func() time.Time
}

func NewRiskUsageStore() *RiskUsageStore {
	return &RiskUsageStore{
		dailyNotional: make(map[string]float64),
		dailyOrders:   make(map[string]int),
		now:           time.Now,
	}
}

func (s *RiskUsageStore) GetDailyUsage(ctx context.Context, tenantID string) (int, float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := s.makeKey(tenantID, s.now())
	return s.dailyOrders[key], s.dailyNotional[key], nil
}

func (s *RiskUsageStore) AddDailyUsage(ctx context.Context, tenantID string, orders int, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	key := s.makeKey(tenantID, now)
	s.dailyNotional[key] += amount
	s.dailyOrders[key] += orders
	s.evictBefore(now.UTC().AddDate(0, 0, -1))
	return nil
}

// evictBefore drops days older than cutoff. Caller holds mu.
func (s *RiskUsageStore) evictBefore(cutoff time.Time) {
	day := cutoff.Format("2006-01-02")
	for key := range s.dailyOrders {
		if len(key) >= 10 && key[len(key)-10:] < day {
			delete(s.dailyOrders, key)
			delete(s.dailyNotional, key)
		}
	}
}

func (s *RiskUsageStore) makeKey(tenantID string, now time.Time) string {
	// 按 UTC 日期分割
	return tenantID + ":" + now.UTC().Format("2006-01-02")
}
