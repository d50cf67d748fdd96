// Package durablecache implements the two-tier read-through cache (C8):
// a durable storage interface, a Redis-backed implementation of it, and the
// stale-while-revalidate policy that sits on top.
package durablecache

import "context"

// DurableStore is the minimal persistence contract the read-through policy
// depends on. Keeping it this small means the policy in Cache never
// depends on a concrete storage technology — the storage engine itself is
// explicitly out of scope, only the read-through behavior on top of it is
// this gateway's concern.
type DurableStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}
