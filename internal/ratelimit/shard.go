package ratelimit

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const numShards = 16

// shard is one partition of the bucket set. The LRU bounds the number of
// buckets it keeps and drops buckets that sit idle past the TTL.
type shard struct {
	mu      sync.Mutex // makes get-or-create atomic
	buckets *expirable.LRU[string, *rate.Limiter]
}

type shardedBuckets struct {
	shards [numShards]shard
}

func newShardedBuckets(maxKeys int, idleTTL time.Duration) *shardedBuckets {
	perShard := maxKeys / numShards
	if perShard < 1 {
		perShard = 1
	}
	var b shardedBuckets
	for i := range b.shards {
		b.shards[i].buckets = expirable.NewLRU[string, *rate.Limiter](perShard, nil, idleTTL)
	}
	return &b
}

func (b *shardedBuckets) getShard(key string) *shard {
	return &b.shards[xxhash.Sum64String(key)%numShards]
}

// getOrCreate returns the bucket for key, creating it with init if absent.
// Every access pushes the bucket's idle deadline forward.
func (b *shardedBuckets) getOrCreate(key string, init func() *rate.Limiter) *rate.Limiter {
	s := b.getShard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	lim, ok := s.buckets.Get(key)
	if !ok {
		lim = init()
	}
	s.buckets.Add(key, lim)
	return lim
}

func (b *shardedBuckets) len() int {
	n := 0
	for i := range b.shards {
		n += b.shards[i].buckets.Len()
	}
	return n
}
