package protocol

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Method names on the protocol contract.
const (
	MethodOpenPosition           = "openPositionWithTpSl"
	MethodPlaceLimitOrder        = "placeLimitOrder"
	MethodCreateVaultAndBorrow   = "createVaultAndBorrow"
	MethodAddCollateralAndBorrow = "addCollateralAndBorrow"

	ViewPositionIDs  = "positionIds"
	ViewPosition     = "position"
	ViewPositionInfo = "positionInfo"
	ViewVault        = "vault"
)

// OrderTypeMarket and OrderTypeLimit are the protocol's uint8 order kinds.
const (
	OrderTypeMarket uint8 = 0
	OrderTypeLimit  uint8 = 1
)

// ProtocolABI describes the trading entry points and read views used by the gateway.
const ProtocolABI = `[
	{
		"name": "openPositionWithTpSl",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "marketId", "type": "bytes32"},
			{"name": "marginToken", "type": "address"},
			{"name": "orderType", "type": "uint8"},
			{"name": "margin", "type": "uint256"},
			{"name": "size", "type": "uint256"},
			{"name": "isLong", "type": "bool"},
			{"name": "entryPrice", "type": "uint256"},
			{"name": "maxSlippageBps", "type": "uint256"},
			{"name": "takeProfit", "type": "uint256"},
			{"name": "stopLoss", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "placeLimitOrder",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "marketId", "type": "bytes32"},
			{"name": "marginToken", "type": "address"},
			{"name": "margin", "type": "uint256"},
			{"name": "size", "type": "uint256"},
			{"name": "isLong", "type": "bool"},
			{"name": "triggerPrice", "type": "uint256"},
			{"name": "maxSlippageBps", "type": "uint256"},
			{"name": "triggersAbove", "type": "bool"},
			{"name": "isDecreaseOnly", "type": "bool"},
			{"name": "expiration", "type": "uint64"},
			{"name": "takeProfit", "type": "uint256"},
			{"name": "stopLoss", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "createVaultAndBorrow",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "collectionId", "type": "bytes32"},
			{"name": "collateralToken", "type": "address"},
			{"name": "borrowToken", "type": "address"},
			{"name": "collateral", "type": "uint256"},
			{"name": "borrow", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "addCollateralAndBorrow",
		"type": "function",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "vaultId", "type": "uint256"},
			{"name": "collateral", "type": "uint256"},
			{"name": "borrow", "type": "uint256"}
		],
		"outputs": []
	},
	{
		"name": "positionIds",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "marketId", "type": "bytes32"}
		],
		"outputs": [{"name": "ids", "type": "uint256[]"}]
	},
	{
		"name": "position",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "positionId", "type": "uint256"}],
		"outputs": [
			{"name": "exists", "type": "bool"},
			{"name": "marketId", "type": "bytes32"},
			{"name": "owner", "type": "address"},
			{"name": "marginToken", "type": "address"},
			{"name": "isLong", "type": "bool"},
			{"name": "margin", "type": "uint256"},
			{"name": "size", "type": "uint256"},
			{"name": "entryPrice", "type": "uint256"},
			{"name": "takeProfit", "type": "uint256"},
			{"name": "stopLoss", "type": "uint256"},
			{"name": "openedAt", "type": "uint64"}
		]
	},
	{
		"name": "positionInfo",
		"type": "function",
		"stateMutability": "view",
		"inputs": [
			{"name": "positionId", "type": "uint256"},
			{"name": "markPrice", "type": "uint256"},
			{"name": "quotePrice", "type": "uint256"}
		],
		"outputs": [
			{"name": "exists", "type": "bool"},
			{"name": "liquidationPrice", "type": "uint256"},
			{"name": "maintenanceMargin", "type": "uint256"},
			{"name": "fundingOutstanding", "type": "int256"},
			{"name": "unrealizedPnl", "type": "int256"},
			{"name": "leverage", "type": "uint256"}
		]
	},
	{
		"name": "vault",
		"type": "function",
		"stateMutability": "view",
		"inputs": [{"name": "vaultId", "type": "uint256"}],
		"outputs": [
			{"name": "exists", "type": "bool"},
			{"name": "owner", "type": "address"},
			{"name": "collateralToken", "type": "address"},
			{"name": "borrowToken", "type": "address"},
			{"name": "collateral", "type": "uint256"},
			{"name": "borrowed", "type": "uint256"},
			{"name": "liquidationPrice", "type": "uint256"},
			{"name": "healthFactor", "type": "uint256"}
		]
	}
]`

var (
	parsedOnce sync.Once
	parsed     abi.ABI
	parseErr   error
)

// ABI returns the parsed protocol ABI.
func ABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsed, parseErr = abi.JSON(strings.NewReader(ProtocolABI))
	})
	return parsed, parseErr
}
