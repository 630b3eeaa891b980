package quarantine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mismobridge/internal/pipeline/models"
	id "mismobridge/pkg/domain"
	"mismobridge/pkg/platform/sentinel"
)

const (
	// Redis key prefix for quarantined documents
	keyPrefix = "mismobridge:quarantine:"
	// Sorted set of quarantine ids scored by creation time
	indexKey = "mismobridge:quarantine:index"

	// DefaultTTL is how long a quarantined document is retained.
	DefaultTTL = 30 * 24 * time.Hour
)

// RedisStore keeps quarantined documents as JSON values with a TTL, plus a
// time-ordered index for listing.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedis constructs a Redis-backed quarantine store.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: DefaultTTL}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func key(quarantineID id.QuarantineID) string {
	return keyPrefix + quarantineID.String()
}

// Save writes the entry and indexes it in one transaction. Existing ids are
// a conflict.
func (s *RedisStore) Save(ctx context.Context, q *models.Quarantine) error {
	body, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quarantine entry: %w", err)
	}
	ok, err := s.client.SetNX(ctx, key(q.ID), body, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("store quarantine entry: %w", err)
	}
	if !ok {
		return sentinel.ErrConflict
	}

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: float64(q.CreatedAt.UnixMilli()), Member: q.ID.String()})
	// Index entries past the TTL point at expired keys.
	pipe.ZRemRangeByScore(ctx, indexKey, "-inf", fmt.Sprintf("(%d", q.CreatedAt.Add(-s.ttl).UnixMilli()))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index quarantine entry: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, quarantineID id.QuarantineID) (*models.Quarantine, error) {
	body, err := s.client.Get(ctx, key(quarantineID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load quarantine entry: %w", err)
	}
	var q models.Quarantine
	if err := json.Unmarshal(body, &q); err != nil {
		return nil, fmt.Errorf("decode quarantine entry: %w", err)
	}
	return &q, nil
}

// ListRecent returns up to limit live entries, newest first.
func (s *RedisStore) ListRecent(ctx context.Context, limit int) ([]*models.Quarantine, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.ZRevRange(ctx, indexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list quarantine index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, member := range ids {
		keys[i] = keyPrefix + member
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load quarantine entries: %w", err)
	}
	out := make([]*models.Quarantine, 0, len(values))
	for _, v := range values {
		body, ok := v.(string)
		if !ok {
			continue
		}
		var q models.Quarantine
		if err := json.Unmarshal([]byte(body), &q); err != nil {
			return nil, fmt.Errorf("decode quarantine entry: %w", err)
		}
		out = append(out, &q)
	}
	return out, nil
}
