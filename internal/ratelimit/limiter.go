// Package ratelimit implements keyed token-bucket rate limiting.
package ratelimit

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultMaxKeys = 10000
	DefaultIdleTTL = 10 * time.Minute
)

// Policy is a token-bucket shape: sustained refill rate and bucket capacity.
type Policy struct {
	RequestsPerSecond uint32
	Burst             uint32
}

// Decision is the outcome of one acquire attempt.
type Decision struct {
	Allowed bool
	// RetryAfter is set when the request was refused: the time until one
	// token will be available, rounded up to whole seconds.
	RetryAfter time.Duration
}

// Option configures a Limiter.
type Option func(*options)

type options struct {
	maxKeys int
	idleTTL time.Duration
}

// WithMaxKeys bounds how many buckets a Limiter keeps. Least recently used
// buckets are evicted first.
func WithMaxKeys(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxKeys = n
		}
	}
}

// WithIdleTTL drops buckets that have not been used for d.
func WithIdleTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.idleTTL = d
		}
	}
}

// Limiter holds one token bucket per key, all with the same policy. Buckets
// start full. It is safe for concurrent use.
type Limiter struct {
	policy  Policy
	limit   rate.Limit
	buckets *shardedBuckets
}

// New creates a Limiter for policy. Policies with a zero rate or burst are
// rejected when the ingress document is validated.
func New(policy Policy, opts ...Option) *Limiter {
	o := options{maxKeys: DefaultMaxKeys, idleTTL: DefaultIdleTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return &Limiter{
		policy:  policy,
		limit:   rate.Limit(policy.RequestsPerSecond),
		buckets: newShardedBuckets(o.maxKeys, o.idleTTL),
	}
}

// Policy returns the limiter's policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// TryAcquire consumes one token for key if available.
func (l *Limiter) TryAcquire(key string) bool {
	return l.Allow(key).Allowed
}

// Allow consumes one token for key if available and reports how long to wait
// otherwise.
func (l *Limiter) Allow(key string) Decision {
	return l.allowAt(key, time.Now())
}

func (l *Limiter) allowAt(key string, now time.Time) Decision {
	lim := l.buckets.getOrCreate(key, func() *rate.Limiter {
		return rate.NewLimiter(l.limit, int(l.policy.Burst))
	})
	if lim.AllowN(now, 1) {
		return Decision{Allowed: true}
	}
	return Decision{RetryAfter: l.retryAfter(lim.TokensAt(now))}
}

func (l *Limiter) retryAfter(tokens float64) time.Duration {
	if l.limit <= 0 {
		return time.Second
	}
	deficit := 1 - tokens
	secs := math.Ceil(deficit / float64(l.limit))
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	return l.buckets.len()
}
