// Package guard provides the Redis-backed comment ceiling counters.
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CommentGuard enforces the per-user comment ceiling on a resource with an
// atomic Redis counter. INCR past the ceiling is rolled back with DECR, so
// concurrent attempts cannot overshoot.
type CommentGuard struct {
	client *redis.Client
	prefix string
}

// NewCommentGuard creates a guard connected to the given Redis URL
func NewCommentGuard(redisURL string) (*CommentGuard, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &CommentGuard{
		client: client,
		prefix: "comments:",
	}, nil
}

// NewCommentGuardWithClient creates a guard from an existing Redis client
func NewCommentGuardWithClient(client *redis.Client) *CommentGuard {
	return &CommentGuard{
		client: client,
		prefix: "comments:",
	}
}

// key generates the Redis key for one user's counter on one resource
func (g *CommentGuard) key(resourceID, resourceType, userID string) string {
	return g.prefix + resourceType + ":" + resourceID + ":" + userID
}

// SeedMissing initializes the counter from the authoritative store count when
// no counter exists, so a flushed Redis does not reset the user's allowance.
// SETNX keeps concurrent seeders from clobbering a counter that just appeared.
func (g *CommentGuard) SeedMissing(ctx context.Context, resourceID, resourceType, userID string, load func(context.Context) (int64, error)) error {
	key := g.key(resourceID, resourceType, userID)
	exists, err := g.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("check comment counter: %w", err)
	}
	if exists > 0 {
		return nil
	}
	count, err := load(ctx)
	if err != nil {
		return fmt.Errorf("seed comment counter: %w", err)
	}
	if count <= 0 {
		return nil
	}
	if err := g.client.SetNX(ctx, key, count, 0).Err(); err != nil {
		return fmt.Errorf("seed comment counter: %w", err)
	}
	return nil
}

// Acquire claims one comment slot. It returns false when the user already
// holds ceiling slots; the failed claim is rolled back before returning.
func (g *CommentGuard) Acquire(ctx context.Context, resourceID, resourceType, userID string, ceiling int64) (bool, error) {
	key := g.key(resourceID, resourceType, userID)
	count, err := g.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("acquire comment slot: %w", err)
	}
	if count > ceiling {
		if err := g.client.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("roll back comment slot: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Release frees one slot after a comment is deleted or its insert failed
func (g *CommentGuard) Release(ctx context.Context, resourceID, resourceType, userID string) error {
	key := g.key(resourceID, resourceType, userID)
	count, err := g.client.Decr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("release comment slot: %w", err)
	}
	if count < 0 {
		// Counter drifted below zero, clamp it
		if err := g.client.Set(ctx, key, 0, 0).Err(); err != nil {
			return fmt.Errorf("clamp comment counter: %w", err)
		}
	}
	return nil
}

// Reset drops the counter entirely, used when a resource's comments are
// bulk-deleted
func (g *CommentGuard) Reset(ctx context.Context, resourceID, resourceType, userID string) error {
	key := g.key(resourceID, resourceType, userID)
	if err := g.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset comment counter: %w", err)
	}
	return nil
}

// ResetResource drops every user's counter on the resource, used when the
// resource's comments are bulk-deleted
func (g *CommentGuard) ResetResource(ctx context.Context, resourceID, resourceType string) error {
	pattern := g.prefix + resourceType + ":" + resourceID + ":*"
	keys, err := g.client.Keys(ctx, pattern).Result()
	if err != nil {
		return fmt.Errorf("list comment counters: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := g.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset comment counters: %w", err)
	}
	return nil
}

// Count reports the current counter value, zero when no slot is held
func (g *CommentGuard) Count(ctx context.Context, resourceID, resourceType, userID string) (int64, error) {
	key := g.key(resourceID, resourceType, userID)
	count, err := g.client.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read comment counter: %w", err)
	}
	return count, nil
}

// Close closes the Redis connection
func (g *CommentGuard) Close() error {
	return g.client.Close()
}

// Ping checks if Redis is reachable
func (g *CommentGuard) Ping(ctx context.Context) error {
	return g.client.Ping(ctx).Err()
}
