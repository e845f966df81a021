package service

import (
	"context"
	"strings"
	"sync"

	"github.com/GoPolymarket/perpgate/internal/model"
	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
)

// SubmissionJournal records every submission that reached the chain or was
// refused by it. Save upserts by record ID.
type SubmissionJournal interface {
	Save(ctx context.Context, rec *model.SubmissionRecord) error
	GetByHash(ctx context.Context, txHash string) (*model.SubmissionRecord, error)
	ListByTenant(ctx context.Context, tenantID string, limit int) ([]model.SubmissionRecord, error)
}

type MemoryJournal struct {
	mu      sync.RWMutex
	records map[string]model.SubmissionRecord
	order   []string
	max     int
}

// NewMemoryJournal keeps at most max records, oldest evicted first.
func NewMemoryJournal(max int) *MemoryJournal {
	if max <= 0 {
		max = 10000
	}
	return &MemoryJournal{records: make(map[string]model.SubmissionRecord), max: max}
}

func (j *MemoryJournal) Save(ctx context.Context, rec *model.SubmissionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.records[rec.ID]; !ok {
		j.order = append(j.order, rec.ID)
	}
	j.records[rec.ID] = *rec
	for len(j.order) > j.max {
		delete(j.records, j.order[0])
		j.order = j.order[1:]
	}
	return nil
}

func (j *MemoryJournal) GetByHash(ctx context.Context, txHash string) (*model.SubmissionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for i := len(j.order) - 1; i >= 0; i-- {
		rec := j.records[j.order[i]]
		if rec.TxHash != "" && strings.EqualFold(rec.TxHash, txHash) {
			return &rec, nil
		}
	}
	return nil, apperrors.NewNotFound("submission " + txHash + " not found")
}

func (j *MemoryJournal) ListByTenant(ctx context.Context, tenantID string, limit int) ([]model.SubmissionRecord, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]model.SubmissionRecord, 0)
	for i := len(j.order) - 1; i >= 0; i-- {
		rec := j.records[j.order[i]]
		if rec.TenantID != tenantID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
