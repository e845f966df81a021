package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/payload"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/GoPolymarket/perpgate/internal/pkg/metrics"
	"github.com/google/uuid"
)

// TradeService is the entry point for intents: build, risk, submit, journal.
type TradeService struct {
	builder  *payload.Builder
	orch     *Orchestrator
	risk     *RiskEngine
	journal  SubmissionJournal
	readOnly atomic.Bool
}

func NewTradeService(builder *payload.Builder, orch *Orchestrator, risk *RiskEngine, journal SubmissionJournal) *TradeService {
	if journal == nil {
		journal = NewMemoryJournal(0)
	}
	return &TradeService{builder: builder, orch: orch, risk: risk, journal: journal}
}

// SetReadOnly toggles the trading kill switch.
func (s *TradeService) SetReadOnly(on bool) {
	s.readOnly.Store(on)
	logger.Warn("Read-only mode changed", "read_only", on)
}

func (s *TradeService) ReadOnly() bool {
	return s.readOnly.Load()
}

// Execute runs intent for tenant. A non-nil result with a
// CONFIRMATION_TIMEOUT error means the transaction was broadcast and its
// outcome is unknown.
func (s *TradeService) Execute(ctx context.Context, tenant *model.Tenant, intent model.Intent) (*model.SubmissionResult, error) {
	if s.readOnly.Load() {
		return nil, apperrors.New(apperrors.ErrReadOnly, "trading is suspended", nil)
	}
	if tenant == nil {
		return nil, apperrors.New(apperrors.ErrAuthFailed, "tenant is required", nil)
	}

	d, err := s.builder.Build(intent)
	if err != nil {
		metrics.IntentRejects.WithLabelValues("invalid_intent").Inc()
		return nil, err
	}
	if s.risk != nil {
		if err := s.risk.CheckIntent(ctx, tenant, intent); err != nil {
			return nil, err
		}
	}

	result, err := s.orch.Submit(ctx, d, tenant.Identity)
	s.record(context.WithoutCancel(ctx), tenant, intent.Kind(), result, err)
	if result != nil && s.risk != nil {
		s.risk.PostSubmitHook(ctx, tenant, intent)
	}
	return result, err
}

// Preview builds intent without signing or submitting it.
func (s *TradeService) Preview(intent model.Intent) (*model.PayloadPreview, error) {
	d, err := s.builder.Build(intent)
	if err != nil {
		return nil, err
	}
	p := d.Preview()
	return &p, nil
}

func (s *TradeService) Submission(ctx context.Context, txHash string) (*model.SubmissionRecord, error) {
	return s.journal.GetByHash(ctx, txHash)
}

func (s *TradeService) Submissions(ctx context.Context, tenantID string, limit int) ([]model.SubmissionRecord, error) {
	return s.journal.ListByTenant(ctx, tenantID, limit)
}

// record journals submissions that reached the chain or were refused by it.
func (s *TradeService) record(ctx context.Context, tenant *model.Tenant, kind model.IntentKind, result *model.SubmissionResult, err error) {
	if result == nil && !errors.Is(err, apperrors.SubmissionRejected) {
		return
	}
	now := time.Now().UTC()
	rec := &model.SubmissionRecord{
		ID:        uuid.NewString(),
		TenantID:  tenant.ID,
		Operation: kind,
		Sender:    tenant.Address(),
		Status:    model.StatusFailed,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if result != nil {
		rec.TxHash = result.TxHash
		rec.Sequence = result.Sequence
		rec.Status = result.Status
	}
	if err != nil {
		appErr := apperrors.Wrap(err)
		rec.ErrorCode = string(appErr.Type)
		rec.Reason = appErr.Reason
		rec.Message = appErr.Message
	}
	if jerr := s.journal.Save(ctx, rec); jerr != nil {
		logger.LogError(ctx, jerr, "Failed to journal submission", "tx_hash", rec.TxHash, "tenant", tenant.ID)
	}
}
