// Package replay short-circuits exact duplicate webhook deliveries.
package replay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "capstack:webhook:"

// Key derives the replay key for a raw webhook body.
func Key(body []byte) string {
	sum := sha256.Sum256(body)
	return keyPrefix + hex.EncodeToString(sum[:])
}

// RedisGuard remembers processed deliveries in Redis so every replica sees
// them.
type RedisGuard struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisGuard(client redis.Cmdable, ttl time.Duration) *RedisGuard {
	return &RedisGuard{client: client, ttl: ttl}
}

func (g *RedisGuard) Seen(ctx context.Context, key string) (bool, error) {
	n, err := g.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("replay lookup: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) Remember(ctx context.Context, key string) error {
	if err := g.client.Set(ctx, key, "1", g.ttl).Err(); err != nil {
		return fmt.Errorf("replay remember: %w", err)
	}
	return nil
}

// MemoryGuard is the single-process variant.
type MemoryGuard struct {
	mu   sync.Mutex
	ttl  time.Duration
	seen map[string]time.Time
	now  func() time.Time
}

func NewMemoryGuard(ttl time.Duration) *MemoryGuard {
	return &MemoryGuard{ttl: ttl, seen: make(map[string]time.Time), now: time.Now}
}

func (g *MemoryGuard) Seen(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	expires, ok := g.seen[key]
	if !ok {
		return false, nil
	}
	if g.now().After(expires) {
		delete(g.seen, key)
		return false, nil
	}
	return true, nil
}

func (g *MemoryGuard) Remember(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for k, exp := range g.seen {
		if now.After(exp) {
			delete(g.seen, k)
		}
	}
	g.seen[key] = now.Add(g.ttl)
	return nil
}
