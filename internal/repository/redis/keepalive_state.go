package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"keepalive-service/internal/client"
	"keepalive-service/internal/util"
)

const keepAliveStatePrefix = "keepalive:state:"

// KeepAliveStateStore persists throttle state in Redis so every replica of a site
// shares one lastKeepAlive value.
type KeepAliveStateStore struct {
	client  *client.RedisClient
	timeout time.Duration
}

func NewKeepAliveStateStore(client *client.RedisClient) *KeepAliveStateStore {
	return &KeepAliveStateStore{client: client, timeout: 5 * time.Second}
}

func (s *KeepAliveStateStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	value, ok, err := s.client.Get(ctx, keepAliveStatePrefix+key)
	if err != nil {
		util.Error("Failed to read keep-alive state", zap.String("key", key), zap.Error(err))
		return "", false, fmt.Errorf("failed to read keep-alive state: %w", err)
	}
	return value, ok, nil
}

func (s *KeepAliveStateStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Set(ctx, keepAliveStatePrefix+key, value, 0); err != nil {
		util.Error("Failed to write keep-alive state", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to write keep-alive state: %w", err)
	}
	util.Debug("Keep-alive state written", zap.String("key", key), zap.String("value", value))
	return nil
}

// Close is a no-op; the Redis client is owned by whoever created it.
func (s *KeepAliveStateStore) Close() error { return nil }
