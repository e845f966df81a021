package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/GoPolymarket/perpgate/internal/config"
	"github.com/GoPolymarket/perpgate/internal/payload"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/GoPolymarket/perpgate/internal/signer"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the subset of ethclient the EVM client needs. Both
// *ethclient.Client and the simulated backend's client satisfy it.
type Backend interface {
	ethereum.ChainStateReader
	ethereum.PendingStateReader
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionReader
	ethereum.TransactionSender
	ethereum.ChainIDReader
}

// gas estimate head room, in percent
const gasBufferPct = 20

type Options struct {
	ExplorerTxURL string
	PollInterval  time.Duration
	RPCTimeout    time.Duration
}

// EVMClient implements Client over a go-ethereum backend.
type EVMClient struct {
	backend Backend
	chainID *big.Int
	opts    Options
}

func NewEVMClient(backend Backend, chainID *big.Int, opts Options) *EVMClient {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.RPCTimeout <= 0 {
		opts.RPCTimeout = 10 * time.Second
	}
	return &EVMClient{backend: backend, chainID: new(big.Int).Set(chainID), opts: opts}
}

// Dial connects to the network's RPC endpoint and checks that it serves the
// configured chain id.
func Dial(ctx context.Context, netCfg config.NetworkConfig, chainCfg config.ChainConfig) (*EVMClient, error) {
	client, err := ethclient.DialContext(ctx, netCfg.RPCURL)
	if err != nil {
		return nil, apperrors.NewChainUnavailable("failed to connect to rpc", err)
	}
	callCtx, cancel := context.WithTimeout(ctx, chainCfg.RPCTimeout())
	defer cancel()
	remote, err := client.ChainID(callCtx)
	if err != nil {
		client.Close()
		return nil, classify("chain id", err)
	}
	if netCfg.ChainID != 0 && remote.Int64() != netCfg.ChainID {
		client.Close()
		return nil, fmt.Errorf("rpc %s serves chain %s, network %s expects %d", netCfg.RPCURL, remote, netCfg.Name, netCfg.ChainID)
	}
	logger.Info("Connected to chain", "network", netCfg.Name, "chain_id", remote.String())

	return NewEVMClient(client, remote, Options{
		ExplorerTxURL: netCfg.ExplorerTxURL,
		PollInterval:  chainCfg.PollInterval(),
		RPCTimeout:    chainCfg.RPCTimeout(),
	}), nil
}

func (c *EVMClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EVMClient) FetchAccountState(ctx context.Context, addr common.Address) (*AccountState, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
	defer cancel()

	nonce, err := c.backend.PendingNonceAt(callCtx, addr)
	if err != nil {
		return nil, classifyRead("fetch nonce", err)
	}
	balance, err := c.backend.BalanceAt(callCtx, addr, nil)
	if err != nil {
		return nil, classifyRead("fetch balance", err)
	}
	return &AccountState{Address: addr, Sequence: nonce, Balance: balance}, nil
}

func (c *EVMClient) BuildTransaction(ctx context.Context, d *payload.Descriptor, state *AccountState) (*types.Transaction, error) {
	if d == nil || state == nil {
		return nil, apperrors.NewInvalidIntent("descriptor and account state are required")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
	defer cancel()

	gasPrice, err := c.backend.SuggestGasPrice(callCtx)
	if err != nil {
		return nil, classifyRead("suggest gas price", err)
	}
	to := d.To()
	gas, err := c.backend.EstimateGas(callCtx, ethereum.CallMsg{
		From:  state.Address,
		To:    &to,
		Value: d.Value(),
		Data:  d.Data(),
	})
	if err != nil {
		return nil, classify("estimate gas", err)
	}
	gas += gas * gasBufferPct / 100

	return types.NewTx(&types.LegacyTx{
		Nonce:    state.Sequence,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &to,
		Value:    d.Value(),
		Data:     d.Data(),
	}), nil
}

func (c *EVMClient) SignTransaction(tx *types.Transaction, id *signer.Identity) (*types.Transaction, error) {
	return id.SignTx(tx, c.chainID)
}

func (c *EVMClient) SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
	defer cancel()

	if err := c.backend.SendTransaction(callCtx, tx); err != nil {
		return common.Hash{}, classify("send transaction", err)
	}
	return tx.Hash(), nil
}

func (c *EVMClient) WaitForTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.receipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			// 节点抖动不影响结果，继续轮询直到超时
			logger.Debug("Receipt poll failed", "tx_hash", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, apperrors.NewConfirmationTimeout(
				fmt.Sprintf("transaction %s not confirmed before deadline; status unknown", hash.Hex()), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *EVMClient) receipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
	defer cancel()
	return c.backend.TransactionReceipt(callCtx, hash)
}

func (c *EVMClient) QueryView(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.RPCTimeout)
	defer cancel()

	out, err := c.backend.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, classifyRead("call view", err)
	}
	return out, nil
}

func (c *EVMClient) ExplorerURL(hash common.Hash) string {
	return FormatExplorerURL(c.opts.ExplorerTxURL, hash)
}

// FormatExplorerURL renders a "%s" template, or "<base>/tx/<hash>" when the
// template has no verb.
func FormatExplorerURL(template string, hash common.Hash) string {
	switch {
	case template == "":
		return ""
	case strings.Contains(template, "%s"):
		return fmt.Sprintf(template, hash.Hex())
	default:
		return strings.TrimRight(template, "/") + "/tx/" + hash.Hex()
	}
}

// classifyRead is classify for calls that never submit anything: every
// failure is the chain being unavailable.
func classifyRead(op string, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.NewChainUnavailable(op+" failed", err)
}
