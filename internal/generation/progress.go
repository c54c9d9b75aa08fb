package generation

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"askbase/internal/logger"
	"askbase/internal/redis"
	"askbase/internal/upstream"
)

// ProgressCache keeps the latest upstream task snapshot per generation
// in redis for a few seconds, so rapid status polls from the UI reuse
// one upstream call instead of issuing their own. A nil cache (or a nil
// redis client) degrades to always-miss.
type ProgressCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewProgressCache builds the cache; client may be nil.
func NewProgressCache(client *redis.Client, ttl time.Duration) *ProgressCache {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	return &ProgressCache{client: client, ttl: ttl}
}

func progressKey(generationID string) string {
	return "generation:progress:" + generationID
}

// Put stores the snapshot. Failures are logged, never propagated: the
// cache is an optimization, not a source of truth.
func (p *ProgressCache) Put(ctx context.Context, generationID string, status *upstream.TaskStatus) {
	if p == nil || p.client == nil || status == nil {
		return
	}
	raw, err := json.Marshal(status)
	if err != nil {
		return
	}
	if err := p.client.Set(ctx, progressKey(generationID), string(raw), p.ttl); err != nil {
		logger.Warnf("progress cache put %s: %v", generationID, err)
	}
}

// Get returns the cached snapshot, or nil on any miss or error.
func (p *ProgressCache) Get(ctx context.Context, generationID string) *upstream.TaskStatus {
	if p == nil || p.client == nil {
		return nil
	}
	raw, err := p.client.Get(ctx, progressKey(generationID))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			logger.Warnf("progress cache get %s: %v", generationID, err)
		}
		return nil
	}
	var status upstream.TaskStatus
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil
	}
	return &status
}

// Forget drops the cached snapshot once a generation is terminal.
func (p *ProgressCache) Forget(ctx context.Context, generationID string) {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.Del(ctx, progressKey(generationID)); err != nil {
		logger.Warnf("progress cache del %s: %v", generationID, err)
	}
}
