package service

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/GoPolymarket/perpgate/internal/chain/chaintest"
	"github.com/GoPolymarket/perpgate/internal/manager"
	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tradeFixture struct {
	fake    *chaintest.Client
	svc     *TradeService
	journal *MemoryJournal
	tenant  *model.Tenant
}

func newTradeFixture(t *testing.T, risk model.RiskConfig) *tradeFixture {
	t.Helper()
	fake := chaintest.New()
	tenant := &model.Tenant{ID: "t1", Identity: newIdentity(t), Risk: risk}
	fake.FundEther(tenant.Identity.Address(), 1)
	journal := NewMemoryJournal(0)
	orch := NewOrchestrator(fake, manager.NewSequenceManager(), 50*time.Millisecond)
	svc := NewTradeService(newBuilder(t), orch, NewRiskEngine(nil, nil, 0), journal)
	return &tradeFixture{fake: fake, svc: svc, journal: journal, tenant: tenant}
}

func TestTradeService_ExecuteJournalsConfirmed(t *testing.T) {
	f := newTradeFixture(t, model.RiskConfig{})
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, f.tenant, btcLong())
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, result.Status)

	rec, err := f.svc.Submission(ctx, result.TxHash)
	require.NoError(t, err)
	assert.Equal(t, "t1", rec.TenantID)
	assert.Equal(t, model.KindOpenPosition, rec.Operation)
	assert.Equal(t, model.StatusConfirmed, rec.Status)
	assert.Equal(t, f.tenant.Address(), rec.Sender)
	assert.Empty(t, rec.ErrorCode)
}

func TestTradeService_InvalidIntentNeverReachesChain(t *testing.T) {
	f := newTradeFixture(t, model.RiskConfig{})
	intent := btcLong()
	intent.TakeProfit = model.Price("100000") // below entry for a LONG

	result, err := f.svc.Execute(context.Background(), f.tenant, intent)
	assert.Nil(t, result)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.InvalidIntent))
	assert.Zero(t, f.fake.TotalCalls())

	recs, err := f.svc.Submissions(context.Background(), "t1", 0)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestTradeService_RiskRejectNeverReachesChain(t *testing.T) {
	f := newTradeFixture(t, model.RiskConfig{MaxMargin: 10})

	_, err := f.svc.Execute(context.Background(), f.tenant, btcLong())
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrRiskReject, apperrors.TypeOf(err))
	assert.Zero(t, f.fake.TotalCalls())
}

func TestTradeService_ReadOnly(t *testing.T) {
	f := newTradeFixture(t, model.RiskConfig{})
	f.svc.SetReadOnly(true)
	assert.True(t, f.svc.ReadOnly())

	_, err := f.svc.Execute(context.Background(), f.tenant, btcLong())
	assert.Equal(t, apperrors.ErrReadOnly, apperrors.TypeOf(err))
	assert.Zero(t, f.fake.TotalCalls())

	// 预览不受影响
	preview, err := f.svc.Preview(btcLong())
	require.NoError(t, err)
	assert.Equal(t, model.KindOpenPosition, preview.Kind)
	assert.Zero(t, f.fake.TotalCalls())
}

func TestTradeService_JournalsRejection(t *testing.T) {
	f := newTradeFixture(t, model.RiskConfig{})
	f.fake.Fund(f.tenant.Identity.Address(), new(big.Int))

	_, err := f.svc.Execute(context.Background(), f.tenant, aptVault())
	require.Error(t, err)

	recs, err := f.svc.Submissions(context.Background(), "t1", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, model.StatusFailed, recs[0].Status)
	assert.Equal(t, string(apperrors.ErrSubmissionRejected), recs[0].ErrorCode)
	assert.Equal(t, apperrors.ReasonInsufficientFunds, recs[0].Reason)
	assert.Empty(t, recs[0].TxHash)
}

func TestTradeService_JournalsPendingOnTimeout(t *testing.T) {
	f := newTradeFixture(t, model.RiskConfig{MaxDailyOrders: 5})
	f.fake.NeverConfirm = true
	ctx := context.Background()

	result, err := f.svc.Execute(ctx, f.tenant, btcLong())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ConfirmationTimeout))
	require.NotNil(t, result)

	rec, err := f.svc.Submission(ctx, result.TxHash)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, rec.Status)
	assert.Equal(t, string(apperrors.ErrConfirmationTimeout), rec.ErrorCode)

	// 已广播的交易计入当日用量
	orders, _, err := f.svc.risk.repo.GetDailyUsage(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, orders)
}

func TestTradeService_RequiresTenant(t *testing.T) {
	f := newTradeFixture(t, model.RiskConfig{})
	_, err := f.svc.Execute(context.Background(), nil, btcLong())
	assert.Equal(t, apperrors.ErrAuthFailed, apperrors.TypeOf(err))
}

func TestMemoryJournal(t *testing.T) {
	ctx := context.Background()
	j := NewMemoryJournal(2)
	for i, hash := range []string{"0xaa", "0xbb", "0xcc"} {
		require.NoError(t, j.Save(ctx, &model.SubmissionRecord{
			ID:       hash,
			TenantID: "t1",
			TxHash:   hash,
			Sequence: uint64(i),
		}))
	}

	_, err := j.GetByHash(ctx, "0xaa")
	assert.True(t, errors.Is(err, apperrors.NotFound), "oldest record evicted")

	rec, err := j.GetByHash(ctx, "0xCC")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.Sequence)

	// upsert keeps one entry per id
	rec.Status = model.StatusConfirmed
	require.NoError(t, j.Save(ctx, rec))
	recs, err := j.ListByTenant(ctx, "t1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "0xcc", recs[0].TxHash, "newest first")
	assert.Equal(t, model.StatusConfirmed, recs[0].Status)

	recs, err = j.ListByTenant(ctx, "t1", 1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
