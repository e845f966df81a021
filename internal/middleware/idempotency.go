package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/GoPolymarket/perpgate/internal/pkg/apperrors"
	"github.com/GoPolymarket/perpgate/internal/pkg/logger"
	"github.com/gin-gonic/gin"
)

const HeaderIdempotencyKey = "X-Idempotency-Key"

type IdempotencyRecord struct {
	Status     int
	Body       []byte
	CreatedAt  time.Time
	Processing bool // 正在处理中，用于防止并发竞争
}

type IdempotencyStore interface {
	// GetOrLock returns (record, true) if the key exists; (nil, false) if the
	// caller now holds it.
	GetOrLock(ctx context.Context, key string) (*IdempotencyRecord, bool, error)
	Save(ctx context.Context, key string, status int, body []byte) error
	Unlock(ctx context.Context, key string) error
}

// InMemIdempotencyStore 单实例部署使用，多实例请用 Redis
type InMemIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*IdempotencyRecord // Key: TenantID + ":" + IdempotencyKey
	ttl     time.Duration
	now     func() time.Time
}

func NewInMemIdempotencyStore(ttl time.Duration) *InMemIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &InMemIdempotencyStore{
		records: make(map[string]*IdempotencyRecord),
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetOrLock 尝试获取记录。如果不存在，则锁定并返回 nil（表示你是第一个）。
// 如果正在处理，返回 Processing=true。如果已完成，返回完整记录。
func (s *InMemIdempotencyStore) GetOrLock(_ context.Context, key string) (*IdempotencyRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if rec, ok := s.records[key]; ok {
		if now.Sub(rec.CreatedAt) < s.ttl {
			return rec, true, nil
		}
		delete(s.records, key)
	}

	s.records[key] = &IdempotencyRecord{Processing: true, CreatedAt: now}
	return nil, false, nil
}

func (s *InMemIdempotencyStore) Save(_ context.Context, key string, status int, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = &IdempotencyRecord{
		Status:    status,
		Body:      body,
		CreatedAt: s.now(),
	}
	return nil
}

func (s *InMemIdempotencyStore) Unlock(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// IdempotencyMiddleware replays the stored response for a repeated
// X-Idempotency-Key. Responses that mean "nothing was broadcast" (5xx other
// than 504) release the key so the client may retry.
func IdempotencyMiddleware(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		idemKey := c.GetHeader(HeaderIdempotencyKey)
		if idemKey == "" {
			c.Next()
			return
		}

		// 确保在 Auth 之后
		tenant, ok := TenantFrom(c)
		if !ok {
			c.Next()
			return
		}
		fullKey := tenant.ID + ":" + idemKey
		ctx := c.Request.Context()

		record, hit, err := store.GetOrLock(ctx, fullKey)
		if err != nil {
			c.Error(apperrors.New(apperrors.ErrInternal, "idempotency store unavailable", err))
			c.Abort()
			return
		}
		if hit {
			if record.Processing {
				c.Error(apperrors.New(apperrors.ErrConflict, "request in progress", nil))
				c.Abort()
				return
			}
			c.Header("Idempotent-Replay", "true")
			c.Data(record.Status, "application/json; charset=utf-8", record.Body)
			c.Abort()
			return
		}

		w := &responseBodyWriter{ResponseWriter: c.Writer}
		c.Writer = w

		c.Next()
		// 错误体必须在保存之前写出
		renderError(c)

		storeCtx := context.WithoutCancel(ctx)
		status := c.Writer.Status()
		if status < http.StatusInternalServerError || status == http.StatusGatewayTimeout {
			if err := store.Save(storeCtx, fullKey, status, w.body); err != nil {
				logger.Warn("Failed to save idempotent response", "key", fullKey, "error", err)
			}
			return
		}
		if err := store.Unlock(storeCtx, fullKey); err != nil {
			logger.Warn("Failed to release idempotency key", "key", fullKey, "error", err)
		}
	}
}

type responseBodyWriter struct {
	gin.ResponseWriter
	body []byte
}

func (w *responseBodyWriter) Write(b []byte) (int, error) {
	w.body = append(w.body, b...)
	return w.ResponseWriter.Write(b)
}
