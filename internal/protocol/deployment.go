package protocol

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/GoPolymarket/perpgate/internal/config"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

// PriceDecimals is the fixed-point precision for prices, sizes and ratios.
const PriceDecimals int32 = 8

type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
}

// Deployment is the protocol's footprint on one network: the contract that
// receives every payload plus the tokens and markets it knows about.
type Deployment struct {
	Network  string
	ChainID  *big.Int
	Protocol common.Address

	tokens       map[string]Token
	tokensByAddr map[common.Address]Token
	markets      map[string]common.Hash
	marketsByID  map[common.Hash]string
	marketOrder  []string
}

func NewDeployment(network string, chainID int64, protocolAddr common.Address, tokens []Token, markets []string) *Deployment {
	d := &Deployment{
		Network:      network,
		ChainID:      big.NewInt(chainID),
		Protocol:     protocolAddr,
		tokens:       make(map[string]Token),
		tokensByAddr: make(map[common.Address]Token),
		markets:      make(map[string]common.Hash),
		marketsByID:  make(map[common.Hash]string),
	}
	for _, t := range tokens {
		t.Symbol = normalize(t.Symbol)
		d.tokens[t.Symbol] = t
		d.tokensByAddr[t.Address] = t
	}
	for _, m := range markets {
		m = normalize(m)
		if _, dup := d.markets[m]; dup {
			continue
		}
		id := MarketID(m)
		d.marketOrder = append(d.marketOrder, m)
		d.markets[m] = id
		d.marketsByID[id] = m
	}
	return d
}

// DeploymentFromConfig builds the deployment for a configured network.
func DeploymentFromConfig(netCfg config.NetworkConfig) (*Deployment, error) {
	if !common.IsHexAddress(netCfg.Protocol) {
		return nil, fmt.Errorf("network %s: invalid protocol address %q", netCfg.Name, netCfg.Protocol)
	}
	tokens := make([]Token, 0, len(netCfg.Tokens))
	for symbol, t := range netCfg.Tokens {
		if !common.IsHexAddress(t.Address) {
			return nil, fmt.Errorf("network %s: token %s has invalid address %q", netCfg.Name, symbol, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return nil, fmt.Errorf("network %s: token %s has invalid decimals %d", netCfg.Name, symbol, t.Decimals)
		}
		tokens = append(tokens, Token{Symbol: symbol, Address: common.HexToAddress(t.Address), Decimals: t.Decimals})
	}
	return NewDeployment(netCfg.Name, netCfg.ChainID, common.HexToAddress(netCfg.Protocol), tokens, netCfg.Markets), nil
}

func (d *Deployment) Token(symbol string) (Token, bool) {
	t, ok := d.tokens[normalize(symbol)]
	return t, ok
}

func (d *Deployment) TokenByAddress(addr common.Address) (Token, bool) {
	t, ok := d.tokensByAddr[addr]
	return t, ok
}

func (d *Deployment) Market(symbol string) (common.Hash, bool) {
	id, ok := d.markets[normalize(symbol)]
	return id, ok
}

// Markets returns the deployment's market symbols in configuration order.
func (d *Deployment) Markets() []string {
	return slices.Clone(d.marketOrder)
}

func (d *Deployment) MarketSymbol(id common.Hash) string {
	if s, ok := d.marketsByID[id]; ok {
		return s
	}
	return id.Hex()
}

// MarketID is keccak256 of the upper-cased market symbol.
func MarketID(symbol string) common.Hash {
	return crypto.Keccak256Hash([]byte(normalize(symbol)))
}

// CollectionID identifies the vault collection for a collateral/borrow pair.
func CollectionID(collateral, borrow string) common.Hash {
	return crypto.Keccak256Hash([]byte(normalize(collateral) + "/" + normalize(borrow)))
}

// ToFixed scales v by 10^decimals and fails if precision would be lost or
// the value is negative.
func ToFixed(v decimal.Decimal, decimals int32) (*big.Int, error) {
	if v.IsNegative() {
		return nil, fmt.Errorf("value %s is negative", v)
	}
	scaled := v.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("value %s has more than %d decimals", v, decimals)
	}
	out := scaled.BigInt()
	if out.BitLen() > 256 {
		return nil, fmt.Errorf("value %s overflows uint256", v)
	}
	return out, nil
}

// FromFixed is the inverse of ToFixed.
func FromFixed(v *big.Int, decimals int32) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -decimals)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
