package service

import (
	"context"
	"errors"
	"time"

	"github.com/GoPolymarket/perpgate/internal/chain"
	"github.com/GoPolymarket/perpgate/internal/manager"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/payload"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/GoPolymarket/perpgate/internal/pkg/metrics"
	"github.com/GoPolymarket/perpgate/internal/signer"
	"github.com/ethereum/go-ethereum/core/types"
)

// Orchestrator drives one descriptor through fetch, build, sign, submit and
// confirm. It never retries: every failure is returned to the caller.
type Orchestrator struct {
	chain          chain.Client
	sequences      *manager.SequenceManager
	confirmTimeout time.Duration
	now            func() time.Time
}

func NewOrchestrator(client chain.Client, sequences *manager.SequenceManager, confirmTimeout time.Duration) *Orchestrator {
	if sequences == nil {
		sequences = manager.NewSequenceManager()
	}
	if confirmTimeout <= 0 {
		confirmTimeout = time.Minute
	}
	return &Orchestrator{
		chain:          client,
		sequences:      sequences,
		confirmTimeout: confirmTimeout,
		now:            time.Now,
	}
}

// Submit consumes d and returns the submission outcome. On
// CONFIRMATION_TIMEOUT the pending result is returned alongside the error;
// the transaction may still land.
func (o *Orchestrator) Submit(ctx context.Context, d *payload.Descriptor, id *signer.Identity) (*model.SubmissionResult, error) {
	if !id.Valid() {
		return nil, apperrors.NewSigning("signing identity is not initialised", nil)
	}
	if err := d.Consume(); err != nil {
		return nil, err
	}
	op := string(d.Kind())

	signed, err := o.send(ctx, d, id)
	if err != nil && signed == nil {
		metrics.SubmissionsTotal.WithLabelValues(op, string(apperrors.TypeOf(err))).Inc()
		return nil, err
	}

	result := &model.SubmissionResult{
		TxHash:      signed.Hash().Hex(),
		Sender:      id.Address().Hex(),
		Sequence:    signed.Nonce(),
		Status:      model.StatusPending,
		ExplorerURL: o.chain.ExplorerURL(signed.Hash()),
		SubmittedAt: o.now().UTC(),
	}
	log := logger.With("tx_hash", result.TxHash, "address", result.Sender, "sequence", result.Sequence, "operation", op)
	if err != nil {
		// 广播结果未知：交易可能已被节点接收
		log.Warn("Broadcast outcome unknown", "error", err)
		metrics.SubmissionsTotal.WithLabelValues(op, string(model.StatusPending)).Inc()
		return result, err
	}
	log.Info("Transaction submitted", "explorer", result.ExplorerURL)

	// (e) confirmation
	waitCtx, cancel := context.WithTimeout(ctx, o.confirmTimeout)
	defer cancel()
	start := time.Now()
	receipt, err := o.chain.WaitForTransaction(waitCtx, signed.Hash())
	metrics.StepLatency.WithLabelValues("confirm").Observe(time.Since(start).Seconds())
	if err != nil {
		if !errors.Is(err, apperrors.ConfirmationTimeout) {
			err = apperrors.NewConfirmationTimeout("confirmation polling aborted; status unknown", err)
		}
		log.Warn("Transaction outcome unknown", "error", err)
		metrics.SubmissionsTotal.WithLabelValues(op, string(model.StatusPending)).Inc()
		return result, err
	}

	confirmedAt := o.now().UTC()
	result.ConfirmedAt = &confirmedAt
	result.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		result.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		result.Status = model.StatusConfirmed
		log.Info("Transaction confirmed", "block", result.BlockNumber)
	} else {
		result.Status = model.StatusFailed
		log.Warn("Transaction reverted on chain", "block", result.BlockNumber)
	}
	metrics.SubmissionsTotal.WithLabelValues(op, string(result.Status)).Inc()
	return result, nil
}

// send runs (a)-(d) while holding the sender's sequence lease. When the node
// never answered the broadcast, the signed transaction is returned with a
// CONFIRMATION_TIMEOUT error and its sequence stays committed.
func (o *Orchestrator) send(ctx context.Context, d *payload.Descriptor, id *signer.Identity) (*types.Transaction, error) {
	lease, err := o.sequences.Acquire(ctx, id.Address())
	if err != nil {
		return nil, err
	}
	defer lease.Release()

	// (a) account state
	start := time.Now()
	state, err := o.chain.FetchAccountState(ctx, id.Address())
	metrics.StepLatency.WithLabelValues("fetch").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	state.Sequence = lease.Next(state.Sequence)

	// (b) build
	start = time.Now()
	tx, err := o.chain.BuildTransaction(ctx, d, state)
	metrics.StepLatency.WithLabelValues("build").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	// (c) sign
	signed, err := o.chain.SignTransaction(tx, id)
	if err != nil {
		var appErr *apperrors.AppError
		if !errors.As(err, &appErr) {
			err = apperrors.NewSigning("failed to sign transaction", err)
		}
		return nil, err
	}

	// (d) submit
	start = time.Now()
	_, err = o.chain.SubmitTransaction(ctx, signed)
	metrics.StepLatency.WithLabelValues("submit").Observe(time.Since(start).Seconds())
	if err != nil {
		if apperrors.TypeOf(err) != apperrors.ErrSubmissionRejected {
			lease.Commit(signed.Nonce())
			return signed, apperrors.NewConfirmationTimeout(
				"broadcast of "+signed.Hash().Hex()+" got no answer; status unknown", err)
		}
		if errors.Is(err, &apperrors.AppError{Type: apperrors.ErrSubmissionRejected, Reason: apperrors.ReasonSequenceMismatch}) {
			lease.Reset()
		}
		logger.Warn("Transaction rejected", "address", id.Address().Hex(), "sequence", state.Sequence, "error", err)
		return nil, err
	}
	lease.Commit(signed.Nonce())
	return signed, nil
}
