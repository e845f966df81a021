package chain

import (
	"context"
	"math/big"

	"github.com/GoPolymarket/perpgate/internal/payload"
	"github.com/GoPolymarket/perpgate/internal/signer"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// AccountState is the sender's view of the chain at the time of a fetch.
type AccountState struct {
	Address  common.Address
	Sequence uint64 // next usable nonce, pending txs included
	Balance  *big.Int
}

// Client is the chain RPC collaborator used by the orchestrator and the
// query layer. Errors are *apperrors.AppError of type CHAIN_UNAVAILABLE,
// SIGNING_ERROR, SUBMISSION_REJECTED or CONFIRMATION_TIMEOUT.
type Client interface {
	ChainID() *big.Int
	FetchAccountState(ctx context.Context, addr common.Address) (*AccountState, error)
	// BuildTransaction prices and sizes a transaction for d at state.Sequence.
	BuildTransaction(ctx context.Context, d *payload.Descriptor, state *AccountState) (*types.Transaction, error)
	SignTransaction(tx *types.Transaction, id *signer.Identity) (*types.Transaction, error)
	SubmitTransaction(ctx context.Context, tx *types.Transaction) (common.Hash, error)
	// WaitForTransaction polls until a receipt exists or ctx is done. It
	// returns CONFIRMATION_TIMEOUT in the latter case.
	WaitForTransaction(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	QueryView(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	ExplorerURL(hash common.Hash) string
}
