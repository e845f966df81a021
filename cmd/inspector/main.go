// Command inspector prints the protocol's ABI surface and the configured
// deployment: method selectors, market ids and token decimals.
package main

import (
	"fmt"
	"log"
	"sort"

	"github.com/GoPolymarket/perpgate/internal/config"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	parsed, err := protocol.ABI()
	if err != nil {
		log.Fatalf("parse abi: %v", err)
	}

	names := make([]string, 0, len(parsed.Methods))
	for name := range parsed.Methods {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println("--- Protocol Methods ---")
	for _, name := range names {
		m := parsed.Methods[name]
		fmt.Printf("0x%x  %-6s %s\n", m.ID, m.StateMutability, m.Sig)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	netCfg, err := cfg.ActiveNetwork()
	if err != nil {
		log.Fatalf("network: %v", err)
	}
	deployment, err := protocol.DeploymentFromConfig(netCfg)
	if err != nil {
		// 未配置合约地址时仍然输出 ABI
		fmt.Printf("\n(no deployment for %s: %v)\n", netCfg.Name, err)
		return
	}

	fmt.Printf("\n--- Deployment %s (chain %s) ---\n", deployment.Network, deployment.ChainID)
	fmt.Printf("protocol: %s\n", deployment.Protocol.Hex())
	for _, market := range netCfg.Markets {
		id, _ := deployment.Market(market)
		fmt.Printf("market %-10s %s\n", market, id.Hex())
	}
	symbols := make([]string, 0, len(netCfg.Tokens))
	for symbol := range netCfg.Tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	for _, symbol := range symbols {
		if token, ok := deployment.Token(symbol); ok {
			fmt.Printf("token  %-10s %s decimals=%d\n", token.Symbol, token.Address.Hex(), token.Decimals)
		}
	}
}
