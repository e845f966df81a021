// Package chaintest provides an in-memory chain.Client that executes the
// protocol's calls against a tiny state model. It is used by service and
// handler tests.
package chaintest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/GoPolymarket/perpgate/internal/chain"
	"github.com/GoPolymarket/perpgate/internal/payload"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/protocol"
	"github.com/GoPolymarket/perpgate/internal/signer"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	DefaultGas = 200_000
	ChainID    = 1337
)

type Position struct {
	ID          uint64
	Market      [32]byte
	Owner       common.Address
	MarginToken common.Address
	IsLong      bool
	Margin      *big.Int
	Size        *big.Int
	EntryPrice  *big.Int
	TakeProfit  *big.Int
	StopLoss    *big.Int
	OpenedAt    uint64
}

// PositionInfo holds the values the protocol's view layer would compute.
type PositionInfo struct {
	LiquidationPrice   *big.Int
	MaintenanceMargin  *big.Int
	FundingOutstanding *big.Int
	UnrealizedPnl      *big.Int
	Leverage           *big.Int
}

type Vault struct {
	ID               uint64
	Owner            common.Address
	CollateralToken  common.Address
	BorrowToken      common.Address
	Collateral       *big.Int
	Borrowed         *big.Int
	LiquidationPrice *big.Int
	HealthFactor     *big.Int
}

// Client is a fake chain. Exported knobs must be set before the client is
// shared between goroutines.
type Client struct {
	GasPrice *big.Int
	// FetchErr, BuildErr, SubmitErr and ViewErr are returned verbatim by the
	// matching call when set.
	FetchErr  error
	BuildErr  error
	SubmitErr error
	ViewErr   error
	// NonceLag makes FetchAccountState report a nonce this far behind, like
	// a lagging node.
	NonceLag uint64
	// NeverConfirm keeps submitted transactions pending forever.
	NeverConfirm bool
	// Revert mines transactions with status 0 and no state change.
	Revert bool
	// SubmitDelay is slept inside SubmitTransaction.
	SubmitDelay time.Duration

	mu        sync.Mutex
	abi       abi.ABI
	chainID   *big.Int
	nonces    map[common.Address]uint64
	balances  map[common.Address]*big.Int
	receipts  map[common.Hash]*types.Receipt
	positions map[uint64]*Position
	infos     map[uint64]PositionInfo
	vaults    map[uint64]*Vault
	sent      []*types.Transaction
	calls     map[string]int
	nextPos   uint64
	nextVault uint64
	block     uint64
}

var _ chain.Client = (*Client)(nil)

func New() *Client {
	parsed, err := protocol.ABI()
	if err != nil {
		panic(err)
	}
	return &Client{
		GasPrice:  big.NewInt(1_000_000_000),
		abi:       parsed,
		chainID:   big.NewInt(ChainID),
		nonces:    make(map[common.Address]uint64),
		balances:  make(map[common.Address]*big.Int),
		receipts:  make(map[common.Hash]*types.Receipt),
		positions: make(map[uint64]*Position),
		infos:     make(map[uint64]PositionInfo),
		vaults:    make(map[uint64]*Vault),
		calls:     make(map[string]int),
		nextPos:   1,
		nextVault: 1,
	}
}

// Fund sets addr's native balance.
func (c *Client) Fund(addr common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Set(wei)
}

// FundEther credits n whole units of the native token.
func (c *Client) FundEther(addr common.Address, n int64) {
	c.Fund(addr, new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
}

func (c *Client) SetNonce(addr common.Address, nonce uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonces[addr] = nonce
}

func (c *Client) Nonce(addr common.Address) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[addr]
}

// AddPosition stores p and returns its id.
func (c *Client) AddPosition(p Position) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	p.ID = c.nextPos
	c.nextPos++
	c.positions[p.ID] = &p
	return p.ID
}

func (c *Client) SetPositionInfo(id uint64, info PositionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos[id] = info
}

func (c *Client) ClosePosition(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.positions, id)
}

func (c *Client) AddVault(v Vault) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	v.ID = c.nextVault
	c.nextVault++
	c.vaults[v.ID] = &v
	return v.ID
}

// Sent returns every transaction accepted by SubmitTransaction.
func (c *Client) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// Calls reports how often method was invoked, e.g. "FetchAccountState".
func (c *Client) Calls(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[method]
}

// TotalCalls is the number of calls across all methods.
func (c *Client) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.calls {
		n += v
	}
	return n
}

func (c *Client) record(method string) {
	c.mu.Lock()
	c.calls[method]++
	c.mu.Unlock()
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) FetchAccountState(ctx context.Context, addr common.Address) (*chain.AccountState, error) {
	c.record("FetchAccountState")
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewChainUnavailable("fetch nonce timed out", err)
	}
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	nonce := c.nonces[addr]
	if c.NonceLag > 0 {
		if nonce > c.NonceLag {
			nonce -= c.NonceLag
		} else {
			nonce = 0
		}
	}
	balance := new(big.Int)
	if b, ok := c.balances[addr]; ok {
		balance.Set(b)
	}
	return &chain.AccountState{Address: addr, Sequence: nonce, Balance: balance}, nil
}

func (c *Client) BuildTransaction(ctx context.Context, d *payload.Descriptor, state *chain.AccountState) (*types.Transaction, error) {
	c.record("BuildTransaction")
	if c.BuildErr != nil {
		return nil, c.BuildErr
	}
	to := d.To()
	return types.NewTx(&types.LegacyTx{
		Nonce:    state.Sequence,
		GasPrice: new(big.Int).Set(c.GasPrice),
		Gas:      DefaultGas,
		To:       &to,
		Value:    d.Value(),
		Data:     d.Data(),
	}), nil
}

func (c *Client) SignTransaction(tx *types.Transaction, id *signer.Identity) (*types.Transaction, error) {
	c.record("SignTransaction")
	return id.SignTx(tx, c.chainID)
}

func (c *Client) SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error) {
	c.record("SubmitTransaction")
	if c.SubmitDelay > 0 {
		time.Sleep(c.SubmitDelay)
	}
	if c.SubmitErr != nil {
		return common.Hash{}, c.SubmitErr
	}
	sender, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return common.Hash{}, apperrors.NewSubmissionRejected(apperrors.ReasonRejected, "invalid sender", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.nonces[sender]
	switch {
	case tx.Nonce() < next:
		return common.Hash{}, apperrors.NewSubmissionRejected(apperrors.ReasonSequenceMismatch,
			fmt.Sprintf("nonce too low: next nonce %d, tx nonce %d", next, tx.Nonce()), nil)
	case tx.Nonce() > next:
		return common.Hash{}, apperrors.NewSubmissionRejected(apperrors.ReasonSequenceMismatch,
			fmt.Sprintf("nonce too high: next nonce %d, tx nonce %d", next, tx.Nonce()), nil)
	}
	balance := c.balances[sender]
	if balance == nil {
		balance = new(big.Int)
	}
	if balance.Cmp(tx.Cost()) < 0 {
		return common.Hash{}, apperrors.NewSubmissionRejected(apperrors.ReasonInsufficientFunds,
			fmt.Sprintf("insufficient funds for gas * price + value: address %s have %s want %s", sender.Hex(), balance, tx.Cost()), nil)
	}

	c.nonces[sender] = next + 1
	c.balances[sender] = new(big.Int).Sub(balance, tx.Cost())
	c.sent = append(c.sent, tx)

	if !c.NeverConfirm {
		c.mine(sender, tx)
	}
	return tx.Hash(), nil
}

// mine applies tx and records its receipt. Caller holds mu.
func (c *Client) mine(sender common.Address, tx *types.Transaction) {
	c.block++
	status := types.ReceiptStatusSuccessful
	if c.Revert || c.apply(sender, tx) != nil {
		status = types.ReceiptStatusFailed
	}
	c.receipts[tx.Hash()] = &types.Receipt{
		Status:      status,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas() / 2,
		BlockNumber: new(big.Int).SetUint64(c.block),
	}
}

func (c *Client) apply(sender common.Address, tx *types.Transaction) error {
	data := tx.Data()
	if len(data) < 4 {
		return nil
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return err
	}

	switch method.Name {
	case protocol.MethodOpenPosition:
		id := c.nextPos
		c.nextPos++
		c.positions[id] = &Position{
			ID:          id,
			Market:      args[0].([32]byte),
			Owner:       sender,
			MarginToken: args[1].(common.Address),
			Margin:      args[3].(*big.Int),
			Size:        args[4].(*big.Int),
			IsLong:      args[5].(bool),
			EntryPrice:  args[6].(*big.Int),
			TakeProfit:  args[8].(*big.Int),
			StopLoss:    args[9].(*big.Int),
			OpenedAt:    c.block,
		}
	case protocol.MethodCreateVaultAndBorrow:
		id := c.nextVault
		c.nextVault++
		c.vaults[id] = &Vault{
			ID:               id,
			Owner:            sender,
			CollateralToken:  args[1].(common.Address),
			BorrowToken:      args[2].(common.Address),
			Collateral:       args[3].(*big.Int),
			Borrowed:         args[4].(*big.Int),
			LiquidationPrice: new(big.Int),
			HealthFactor:     new(big.Int),
		}
	case protocol.MethodAddCollateralAndBorrow:
		v, ok := c.vaults[args[0].(*big.Int).Uint64()]
		if !ok || v.Owner != sender {
			return fmt.Errorf("vault not found")
		}
		v.Collateral = new(big.Int).Add(v.Collateral, args[1].(*big.Int))
		v.Borrowed = new(big.Int).Add(v.Borrowed, args[2].(*big.Int))
	}
	return nil
}

func (c *Client) WaitForTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	c.record("WaitForTransaction")
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		c.mu.Lock()
		receipt, ok := c.receipts[hash]
		c.mu.Unlock()
		if ok {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, apperrors.NewConfirmationTimeout(
				fmt.Sprintf("transaction %s not confirmed before deadline; status unknown", hash.Hex()), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Confirm mines every pending transaction sent while NeverConfirm was set.
func (c *Client) Confirm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tx := range c.sent {
		if _, ok := c.receipts[tx.Hash()]; ok {
			continue
		}
		sender, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
		if err != nil {
			continue
		}
		c.mine(sender, tx)
	}
}

func (c *Client) QueryView(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	c.record("QueryView")
	if c.ViewErr != nil {
		return nil, c.ViewErr
	}
	if len(data) < 4 {
		return nil, apperrors.NewChainUnavailable("call view failed", fmt.Errorf("short call data"))
	}
	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, apperrors.NewChainUnavailable("call view failed", err)
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, apperrors.NewChainUnavailable("call view failed", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	zero := new(big.Int)
	switch method.Name {
	case protocol.ViewPositionIDs:
		owner, market := args[0].(common.Address), args[1].([32]byte)
		ids := []*big.Int{}
		for id := uint64(1); id < c.nextPos; id++ {
			p, ok := c.positions[id]
			if ok && p.Owner == owner && p.Market == market {
				ids = append(ids, new(big.Int).SetUint64(id))
			}
		}
		return method.Outputs.Pack(ids)
	case protocol.ViewPosition:
		p, ok := c.positions[args[0].(*big.Int).Uint64()]
		if !ok {
			return method.Outputs.Pack(false, [32]byte{}, common.Address{}, common.Address{}, false,
				zero, zero, zero, zero, zero, uint64(0))
		}
		return method.Outputs.Pack(true, p.Market, p.Owner, p.MarginToken, p.IsLong,
			p.Margin, p.Size, p.EntryPrice, orZero(p.TakeProfit), orZero(p.StopLoss), p.OpenedAt)
	case protocol.ViewPositionInfo:
		id := args[0].(*big.Int).Uint64()
		if _, ok := c.positions[id]; !ok {
			return method.Outputs.Pack(false, zero, zero, zero, zero, zero)
		}
		info := c.infos[id]
		return method.Outputs.Pack(true, orZero(info.LiquidationPrice), orZero(info.MaintenanceMargin),
			orZero(info.FundingOutstanding), orZero(info.UnrealizedPnl), orZero(info.Leverage))
	case protocol.ViewVault:
		v, ok := c.vaults[args[0].(*big.Int).Uint64()]
		if !ok {
			return method.Outputs.Pack(false, common.Address{}, common.Address{}, common.Address{},
				zero, zero, zero, zero)
		}
		return method.Outputs.Pack(true, v.Owner, v.CollateralToken, v.BorrowToken,
			v.Collateral, v.Borrowed, orZero(v.LiquidationPrice), orZero(v.HealthFactor))
	default:
		return nil, apperrors.NewChainUnavailable("call view failed", fmt.Errorf("%s is not a view", method.Name))
	}
}

func (c *Client) ExplorerURL(hash common.Hash) string {
	return chain.FormatExplorerURL("https://scan.test/tx/%s", hash)
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
