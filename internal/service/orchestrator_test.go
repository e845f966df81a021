package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GoPolymarket/perpgate/internal/chain/chaintest"
	"github.com/GoPolymarket/perpgate/internal/manager"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/signer"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOrchestrator(fake *chaintest.Client, timeout time.Duration) *Orchestrator {
	return NewOrchestrator(fake, manager.NewSequenceManager(), timeout)
}

func TestSubmit_OpenPositionConfirms(t *testing.T) {
	fake := chaintest.New()
	id := newIdentity(t)
	fake.FundEther(id.Address(), 1)
	b := newBuilder(t)
	orch := newOrchestrator(fake, time.Second)

	result, err := orch.Submit(context.Background(), build(t, b, btcLong()), id)
	require.NoError(t, err)

	assert.Equal(t, model.StatusConfirmed, result.Status)
	assert.Equal(t, uint64(0), result.Sequence)
	assert.Equal(t, id.Address().Hex(), result.Sender)
	assert.Equal(t, "https://scan.test/tx/"+result.TxHash, result.ExplorerURL)
	assert.NotNil(t, result.ConfirmedAt)
	assert.NotZero(t, result.BlockNumber)
	assert.Equal(t, uint64(1), fake.Nonce(id.Address()))

	// 上链后可以查询到新仓位
	q, err := NewQueryService(fake, testDeployment())
	require.NoError(t, err)
	var got []*model.PositionSnapshot
	for snap, err := range q.QueryPositions(context.Background(), id.Address(), "BTCPERP") {
		require.NoError(t, err)
		got = append(got, snap)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "BTCPERP", got[0].Market)
	assert.Equal(t, model.SideLong, got[0].Side)
	assert.Equal(t, "MUSD", got[0].MarginToken)
	assert.True(t, got[0].Margin.Equal(btcLong().Margin))
	assert.True(t, got[0].EntryPrice.Equal(btcLong().EntryPrice))
	require.NotNil(t, got[0].TakeProfit)
	assert.Equal(t, "105000", got[0].TakeProfit.String())
}

func TestSubmit_VaultWithoutGasIsRejected(t *testing.T) {
	fake := chaintest.New()
	id := newIdentity(t)
	orch := newOrchestrator(fake, time.Second)

	result, err := orch.Submit(context.Background(), build(t, newBuilder(t), aptVault()), id)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.SubmissionRejected))
	assert.Equal(t, apperrors.ReasonInsufficientFunds, apperrors.Wrap(err).Reason)
	assert.Empty(t, fake.Sent())
}

func TestSubmit_DescriptorIsSingleUse(t *testing.T) {
	fake := chaintest.New()
	id := newIdentity(t)
	fake.FundEther(id.Address(), 1)
	orch := newOrchestrator(fake, time.Second)
	d := build(t, newBuilder(t), btcLong())

	_, err := orch.Submit(context.Background(), d, id)
	require.NoError(t, err)
	calls := fake.TotalCalls()

	_, err = orch.Submit(context.Background(), d, id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.InvalidIntent))
	assert.Equal(t, calls, fake.TotalCalls(), "a consumed descriptor must not reach the chain")
	assert.Len(t, fake.Sent(), 1)
}

func TestSubmit_RequiresIdentity(t *testing.T) {
	fake := chaintest.New()
	orch := newOrchestrator(fake, time.Second)
	d := build(t, newBuilder(t), btcLong())

	_, err := orch.Submit(context.Background(), d, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.Signing))
	assert.Zero(t, fake.TotalCalls())
	assert.False(t, d.Consumed(), "descriptor stays usable when no identity was given")
}

func TestSubmit_StaleSequenceIsRejectedNotRetried(t *testing.T) {
	fake := chaintest.New()
	id := newIdentity(t)
	fake.FundEther(id.Address(), 1)
	fake.SetNonce(id.Address(), 5)
	fake.NonceLag = 2
	b := newBuilder(t)
	orch := newOrchestrator(fake, time.Second)

	_, err := orch.Submit(context.Background(), build(t, b, btcLong()), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, &apperrors.AppError{
		Type:   apperrors.ErrSubmissionRejected,
		Reason: apperrors.ReasonSequenceMismatch,
	}))
	assert.Equal(t, 1, fake.Calls("SubmitTransaction"), "no internal retry")
	assert.Empty(t, fake.Sent())

	// 节点追上后，新的 descriptor 使用链上序号
	fake.NonceLag = 0
	result, err := orch.Submit(context.Background(), build(t, b, btcLong()), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), result.Sequence)
}

func TestSubmit_WatermarkCoversLaggingNode(t *testing.T) {
	fake := chaintest.New()
	id := newIdentity(t)
	fake.FundEther(id.Address(), 1)
	b := newBuilder(t)
	orch := newOrchestrator(fake, time.Second)

	first, err := orch.Submit(context.Background(), build(t, b, btcLong()), id)
	require.NoError(t, err)

	fake.NonceLag = 1 // node still reports the pre-submit nonce
	second, err := orch.Submit(context.Background(), build(t, b, btcLong()), id)
	require.NoError(t, err)
	assert.Equal(t, first.Sequence+1, second.Sequence)
}

func TestSubmit_ConcurrentSameSenderGetsDistinctSequences(t *testing.T) {
	fake := chaintest.New()
	fake.SubmitDelay = time.Millisecond
	id := newIdentity(t)
	fake.FundEther(id.Address(), 10)
	b := newBuilder(t)
	orch := newOrchestrator(fake, 5*time.Second)

	const n = 8
	var wg sync.WaitGroup
	results := make([]*model.SubmissionResult, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			d, err := b.Build(btcLong())
			if err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = orch.Submit(context.Background(), d, id)
		}(i)
	}
	wg.Wait()

	seqs := make([]int, 0, n)
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i], "submission %d", i)
		assert.Equal(t, model.StatusConfirmed, results[i].Status)
		seqs = append(seqs, int(results[i].Sequence))
	}
	sort.Ints(seqs)
	for i, s := range seqs {
		assert.Equal(t, i, s)
	}
	assert.Equal(t, uint64(n), fake.Nonce(id.Address()))
}

func TestSubmit_DistinctSendersDoNotBlockEachOther(t *testing.T) {
	fake := chaintest.New()
	busy, free := newIdentity(t), newIdentity(t)
	fake.FundEther(busy.Address(), 1)
	fake.FundEther(free.Address(), 1)
	b := newBuilder(t)
	seqs := manager.NewSequenceManager()
	orch := NewOrchestrator(fake, seqs, time.Second)

	// 模拟 busy 地址有一笔提交正在进行
	lease, err := seqs.Acquire(context.Background(), busy.Address())
	require.NoError(t, err)
	defer lease.Release()

	result, err := orch.Submit(context.Background(), build(t, b, btcLong()), free)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, result.Status)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = orch.Submit(ctx, build(t, b, btcLong()), busy)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrChainUnavailable, apperrors.TypeOf(err))
	assert.Zero(t, fake.Calls("SubmitTransaction"))
	assert.Zero(t, fake.Nonce(busy.Address()))
}

func TestSubmit_ConfirmationTimeoutKeepsHash(t *testing.T) {
	fake := chaintest.New()
	fake.NeverConfirm = true
	id := newIdentity(t)
	fake.FundEther(id.Address(), 1)
	orch := newOrchestrator(fake, 20*time.Millisecond)

	result, err := orch.Submit(context.Background(), build(t, newBuilder(t), btcLong()), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ConfirmationTimeout))
	require.NotNil(t, result, "a broadcast transaction must be reported")
	assert.Equal(t, model.StatusPending, result.Status)
	assert.True(t, strings.HasPrefix(result.TxHash, "0x"))
	require.Len(t, fake.Sent(), 1)
	assert.Equal(t, fake.Sent()[0].Hash().Hex(), result.TxHash)
}

func TestSubmit_UnansweredBroadcastIsPendingNotRetryable(t *testing.T) {
	fake := chaintest.New()
	fake.SubmitErr = fmt.Errorf("post: %w", context.DeadlineExceeded)
	id := newIdentity(t)
	fake.FundEther(id.Address(), 1)
	seqs := manager.NewSequenceManager()
	orch := NewOrchestrator(fake, seqs, time.Second)

	result, err := orch.Submit(context.Background(), build(t, newBuilder(t), btcLong()), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ConfirmationTimeout))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.False(t, apperrors.Wrap(err).Retryable)

	require.NotNil(t, result, "the hash is known before the broadcast")
	assert.Equal(t, model.StatusPending, result.Status)
	assert.Equal(t, uint64(0), result.Sequence)
	assert.True(t, strings.HasPrefix(result.TxHash, "0x"))
	assert.Zero(t, fake.Calls("WaitForTransaction"))

	// the sequence may be taken on chain, so it stays reserved
	next, known := seqs.Watermark(id.Address())
	assert.True(t, known)
	assert.Equal(t, uint64(1), next)
}

func TestSubmit_RevertedReceiptIsFailedNotError(t *testing.T) {
	fake := chaintest.New()
	fake.Revert = true
	id := newIdentity(t)
	fake.FundEther(id.Address(), 1)
	orch := newOrchestrator(fake, time.Second)

	result, err := orch.Submit(context.Background(), build(t, newBuilder(t), btcLong()), id)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, result.Status)
	assert.Equal(t, uint64(1), fake.Nonce(id.Address()), "a reverted tx still uses its sequence")
}

func TestSubmit_ChainUnavailableStopsBeforeBuild(t *testing.T) {
	fake := chaintest.New()
	fake.FetchErr = apperrors.NewChainUnavailable("dial tcp: connection refused", fmt.Errorf("refused"))
	id := newIdentity(t)
	orch := newOrchestrator(fake, time.Second)

	_, err := orch.Submit(context.Background(), build(t, newBuilder(t), btcLong()), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ChainUnavailable))
	assert.Zero(t, fake.Calls("BuildTransaction"))
	assert.Zero(t, fake.Calls("SubmitTransaction"))
}

func TestSubmit_ForeignSignErrorBecomesSigning(t *testing.T) {
	fake := chaintest.New()
	id := newIdentity(t)
	fake.FundEther(id.Address(), 1)
	orch := NewOrchestrator(signFails{fake}, manager.NewSequenceManager(), time.Second)

	_, err := orch.Submit(context.Background(), build(t, newBuilder(t), btcLong()), id)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.Signing))
	assert.Zero(t, fake.Calls("SubmitTransaction"))
}

// signFails stands in for a signer that errors outside the app taxonomy.
type signFails struct{ *chaintest.Client }

func (signFails) SignTransaction(*types.Transaction, *signer.Identity) (*types.Transaction, error) {
	return nil, errors.New("hsm offline")
}
