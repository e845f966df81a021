package signer

import (
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Identity is a signing identity: an address and the key that controls it.
// It is owned by the caller and passed by reference; it is never persisted
// and its String/LogValue forms only ever expose the address.
type Identity struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// DeriveIdentity parses hex key material (with or without 0x) and derives
// the address. The input string is not retained.
func DeriveIdentity(privateKeyHex string) (*Identity, error) {
	// 1. Parse Private Key
	privateKeyHex = strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x")
	if privateKeyHex == "" {
		return nil, apperrors.NewSigning("private key is required", nil)
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, apperrors.NewSigning("invalid private key", err)
	}

	// 2. Derive Address
	publicKey := key.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, apperrors.NewSigning("error casting public key to ECDSA", nil)
	}

	return &Identity{
		key:     key,
		address: crypto.PubkeyToAddress(*publicKeyECDSA),
	}, nil
}

// FromKey wraps an already parsed key.
func FromKey(key *ecdsa.PrivateKey) (*Identity, error) {
	if key == nil {
		return nil, apperrors.NewSigning("private key is required", nil)
	}
	return &Identity{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (i *Identity) Address() common.Address {
	return i.address
}

// Valid reports whether the identity can sign.
func (i *Identity) Valid() bool {
	return i != nil && i.key != nil && i.address != (common.Address{})
}

// SignTx signs tx for chainID with the latest signer the chain supports.
func (i *Identity) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if !i.Valid() {
		return nil, apperrors.NewSigning("signing identity is not initialised", nil)
	}
	if tx == nil {
		return nil, apperrors.NewSigning("transaction is required", nil)
	}
	if chainID == nil || chainID.Sign() <= 0 {
		return nil, apperrors.NewSigning(fmt.Sprintf("invalid chain id %v", chainID), nil)
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), i.key)
	if err != nil {
		return nil, apperrors.NewSigning("failed to sign transaction", err)
	}
	return signed, nil
}

func (i *Identity) String() string {
	if i == nil {
		return "<nil identity>"
	}
	return i.address.Hex()
}

func (i *Identity) LogValue() slog.Value {
	return slog.StringValue(i.String())
}
