// Package syncutil holds small concurrency helpers shared across packages.
package syncutil

import (
	"context"
	"hash/fnv"
)

const numShards = 256

// ContextShardedMutex is a fixed pool of channel-based mutexes keyed by
// string. It serializes work per key (one chat turn per session at a time)
// with bounded memory no matter how many keys are seen, and lets waiters
// bail out when their context is cancelled. Keys that hash to the same
// shard occasionally contend; that is an accepted trade.
type ContextShardedMutex struct {
	shards [numShards]chan struct{}
}

// NewContextShardedMutex creates the pool with every shard unlocked.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	for i := range m.shards {
		m.shards[i] = make(chan struct{}, 1)
		m.shards[i] <- struct{}{}
	}
	return m
}

// LockContext acquires the mutex for key, or gives up when ctx is done.
// On success it returns an unlock function the caller MUST invoke.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	shard := m.shards[shardIdx(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % numShards
}
