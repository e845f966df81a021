package payload

import (
	"bytes"
	"math/big"
	"sync/atomic"

	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Descriptor is an encoded protocol call. It is immutable once built and is
// consumed by exactly one submission.
type Descriptor struct {
	kind   model.IntentKind
	to     common.Address
	method string
	data   []byte
	value  *big.Int

	consumed atomic.Bool
}

func (d *Descriptor) Kind() model.IntentKind { return d.kind }
func (d *Descriptor) To() common.Address     { return d.to }
func (d *Descriptor) Method() string         { return d.method }

// Data returns a copy of the call data.
func (d *Descriptor) Data() []byte {
	return bytes.Clone(d.data)
}

// Value returns a copy of the native value attached to the call.
func (d *Descriptor) Value() *big.Int {
	if d.value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(d.value)
}

// Checksum is keccak256(to || value || data) and identifies the payload
// independent of the descriptor instance.
func (d *Descriptor) Checksum() common.Hash {
	return crypto.Keccak256Hash(d.to.Bytes(), common.LeftPadBytes(d.Value().Bytes(), 32), d.data)
}

// Equal reports whether two descriptors encode the same call.
func (d *Descriptor) Equal(o *Descriptor) bool {
	if d == nil || o == nil {
		return d == o
	}
	return d.kind == o.kind && d.to == o.to && d.method == o.method &&
		bytes.Equal(d.data, o.data) && d.Value().Cmp(o.Value()) == 0
}

// Consume marks the descriptor as used. The second call fails.
func (d *Descriptor) Consume() error {
	if d == nil {
		return apperrors.NewInvalidIntent("descriptor is required")
	}
	if !d.consumed.CompareAndSwap(false, true) {
		return apperrors.NewInvalidIntent("descriptor already consumed; build a new one from the intent")
	}
	return nil
}

func (d *Descriptor) Consumed() bool {
	return d.consumed.Load()
}

func (d *Descriptor) Preview() model.PayloadPreview {
	return model.PayloadPreview{
		Kind:     d.kind,
		To:       d.to.Hex(),
		Method:   d.method,
		Data:     hexutil.Encode(d.data),
		Value:    d.Value().String(),
		Checksum: d.Checksum().Hex(),
	}
}
