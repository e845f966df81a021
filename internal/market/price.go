package market

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Price is the latest mark for one market. Quote is the price of the
// market's quote asset (mUSD) in USD, 1 when the feed does not send it.
type Price struct {
	Symbol      string
	Mark        decimal.Decimal
	Quote       decimal.Decimal
	LastUpdated time.Time
}

// Stale reports whether the price is older than maxAge.
func (p Price) Stale(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(p.LastUpdated) > maxAge
}

// PriceBook holds the latest price per symbol.
type PriceBook struct {
	mu     sync.RWMutex
	prices map[string]Price
}

func NewPriceBook() *PriceBook {
	return &PriceBook{prices: make(map[string]Price)}
}

// Update stores p unless a newer price is already known.
func (b *PriceBook) Update(p Price) bool {
	p.Symbol = normalize(p.Symbol)
	if p.Quote.IsZero() {
		p.Quote = decimal.NewFromInt(1)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.prices[p.Symbol]; ok && cur.LastUpdated.After(p.LastUpdated) {
		return false
	}
	b.prices[p.Symbol] = p
	return true
}

func (b *PriceBook) Get(symbol string) (Price, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.prices[normalize(symbol)]
	return p, ok
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
