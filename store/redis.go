package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores the whole document as one JSON string under a key.
type RedisBackend struct {
	rdb redis.UniversalClient
	key string
}

// NewRedisBackend constructs a *RedisBackend. An empty key defaults to
// "ghrelay:config".
func NewRedisBackend(rdb redis.UniversalClient, key string) *RedisBackend {
	if key == "" {
		key = "ghrelay:config"
	}
	return &RedisBackend{rdb: rdb, key: key}
}

func (b *RedisBackend) Load(ctx context.Context) (Document, error) {
	data, err := b.rdb.Get(ctx, b.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", b.key, err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", b.key, err)
	}
	return doc, nil
}

// Save replaces the stored document. An empty document removes the key.
func (b *RedisBackend) Save(ctx context.Context, doc Document) error {
	if len(doc) == 0 {
		if err := b.rdb.Del(ctx, b.key).Err(); err != nil {
			return fmt.Errorf("deleting %s: %w", b.key, err)
		}
		return nil
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	if err := b.rdb.Set(ctx, b.key, data, 0).Err(); err != nil {
		return fmt.Errorf("setting %s: %w", b.key, err)
	}
	return nil
}
