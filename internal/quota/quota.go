// Package quota enforces a per-user daily ask budget backed by redis.
package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"askbase/internal/redis"
)

// ErrExceeded reports that the user has used up today's budget.
var ErrExceeded = errors.New("daily quota exceeded")

// Snapshot is the usage state returned with every decision so callers
// can surface it to the client.
type Snapshot struct {
	Limit     int       `json:"limit"`
	Used      int       `json:"used"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"resetAt"`
}

// Gate counts asks per user per UTC day. Counters live in redis with an
// absolute expiry at the next midnight, so resets need no sweeper.
type Gate struct {
	client *redis.Client
	limit  int
	now    func() time.Time
}

// NewGate builds the gate. Limit must be positive.
func NewGate(client *redis.Client, limit int) *Gate {
	return &Gate{client: client, limit: limit, now: time.Now}
}

func (g *Gate) key(userID int64, day time.Time) string {
	return fmt.Sprintf("quota:usage:%d:%s", userID, day.Format("2006-01-02"))
}

// Allow consumes one unit of today's budget. It returns ErrExceeded
// with the current snapshot when the budget is spent; other errors mean
// redis itself failed.
func (g *Gate) Allow(ctx context.Context, userID int64) (Snapshot, error) {
	now := g.now().UTC()
	resetAt := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	key := g.key(userID, now)

	used, err := g.client.Incr(ctx, key)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count quota: %w", err)
	}
	if used == 1 {
		if err := g.client.ExpireAt(ctx, key, resetAt); err != nil {
			return Snapshot{}, fmt.Errorf("expire quota key: %w", err)
		}
	}

	snap := Snapshot{
		Limit:     g.limit,
		Used:      int(used),
		Remaining: g.limit - int(used),
		ResetAt:   resetAt,
	}
	if snap.Remaining < 0 {
		snap.Remaining = 0
	}
	if int(used) > g.limit {
		snap.Used = g.limit
		return snap, ErrExceeded
	}
	return snap, nil
}
