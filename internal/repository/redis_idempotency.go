package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/GoPolymarket/perpgate/internal/middleware"
	"github.com/redis/go-redis/v9"
)

type RedisIdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisIdempotencyStore(client *RedisClient, ttl time.Duration) *RedisIdempotencyStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisIdempotencyStore{
		client: client.Client,
		ttl:    ttl,
		prefix: "idem:",
	}
}

type idemWire struct {
	Status     int    `json:"status"`
	Body       []byte `json:"body"`
	CreatedAt  int64  `json:"created_at"`
	Processing bool   `json:"processing"`
}

func (s *RedisIdempotencyStore) GetOrLock(ctx context.Context, key string) (*middleware.IdempotencyRecord, bool, error) {
	payload, err := encodeIdemRecord(middleware.IdempotencyRecord{CreatedAt: time.Now().UTC(), Processing: true})
	if err != nil {
		return nil, false, err
	}
	ok, err := s.client.SetNX(ctx, s.prefix+key, payload, s.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, false, nil
	}

	raw, err := s.client.Get(ctx, s.prefix+key).Result()
	if err == redis.Nil {
		// 在 SETNX 与 GET 之间过期，按占用中处理，客户端重试即可
		return &middleware.IdempotencyRecord{Processing: true}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	rec, err := decodeIdemRecord(raw)
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, status int, body []byte) error {
	payload, err := encodeIdemRecord(middleware.IdempotencyRecord{
		Status:    status,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.prefix+key, payload, s.ttl).Err()
}

func (s *RedisIdempotencyStore) Unlock(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func encodeIdemRecord(rec middleware.IdempotencyRecord) (string, error) {
	data, err := json.Marshal(idemWire{
		Status:     rec.Status,
		Body:       rec.Body,
		CreatedAt:  rec.CreatedAt.Unix(),
		Processing: rec.Processing,
	})
	return string(data), err
}

func decodeIdemRecord(raw string) (*middleware.IdempotencyRecord, error) {
	var wire idemWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, err
	}
	return &middleware.IdempotencyRecord{
		Status:     wire.Status,
		Body:       wire.Body,
		CreatedAt:  time.Unix(wire.CreatedAt, 0).UTC(),
		Processing: wire.Processing,
	}, nil
}
