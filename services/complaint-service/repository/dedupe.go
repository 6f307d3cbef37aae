package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultDedupeTTL outlives the notification log retention window.
const DefaultDedupeTTL = 30 * 24 * time.Hour

// Deduper hands out one-time claims on notification keys
// ("{complaintId}:{status}"). Claim reports true only to the first caller.
type Deduper interface {
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisDeduper stores claims as SETNX keys, shared by every replica.
type RedisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &RedisDeduper{client: client, prefix: "notif:dedupe:", ttl: ttl}
}

func (d *RedisDeduper) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+key, time.Now().UTC().Format(time.RFC3339), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx %s: %w", key, err)
	}
	return ok, nil
}

// MemoryDeduper keeps claims in process memory. Only suitable for a single
// replica.
type MemoryDeduper struct {
	mu        sync.Mutex
	claims    map[string]time.Time
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

// memorySweepInterval bounds how often Claim drops expired entries.
const memorySweepInterval = time.Hour

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupeTTL
	}
	return &MemoryDeduper{claims: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (d *MemoryDeduper) Claim(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if now.Sub(d.lastSweep) >= memorySweepInterval {
		d.sweep(now)
	}
	if exp, ok := d.claims[key]; ok && now.Before(exp) {
		return false, nil
	}
	d.claims[key] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) sweep(now time.Time) {
	for k, exp := range d.claims {
		if !now.Before(exp) {
			delete(d.claims, k)
		}
	}
	d.lastSweep = now
}
