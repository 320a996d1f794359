package ratelimit

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const maxPolicies = 256

// Registry hands out one Limiter per distinct policy, so buckets survive a
// configuration reload as long as their policy is unchanged. Limiters for
// policies no longer in use age out.
type Registry struct {
	mu       sync.Mutex
	limiters *expirable.LRU[Policy, *Limiter]
	opts     []Option
}

// NewRegistry creates a Registry whose limiters are built with opts.
func NewRegistry(opts ...Option) *Registry {
	o := options{idleTTL: DefaultIdleTTL}
	for _, opt := range opts {
		opt(&o)
	}
	return &Registry{
		limiters: expirable.NewLRU[Policy, *Limiter](maxPolicies, nil, o.idleTTL),
		opts:     opts,
	}
}

// Limiter returns the shared limiter for p.
func (r *Registry) Limiter(p Policy) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.limiters.Get(p)
	if !ok {
		l = New(p, r.opts...)
	}
	r.limiters.Add(p, l)
	return l
}

// Allow consumes a token for key under policy p.
func (r *Registry) Allow(p Policy, key string) Decision {
	return r.Limiter(p).Allow(key)
}
