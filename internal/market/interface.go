package market

// Provider supplies fresh mark prices to the risk engine and the query
// handlers.
type Provider interface {
	Subscribe(symbols []string)
	GetPrice(symbol string) (Price, bool)
	Start()
	Stop()
}
