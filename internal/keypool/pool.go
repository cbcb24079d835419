// Package keypool implements the in-memory credential cache that fronts the
// persistent credential store.
package keypool

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	gateway "github.com/amppool/gateway/internal"
)

// Store is the narrow slice of storage.CredentialStore the pool actually
// needs -- declared here rather than imported so callers can satisfy it
// structurally without depending on the wider storage package interface.
type Store interface {
	ListAvailable(ctx context.Context, excludeIDs []int64, limit int) ([]*gateway.Credential, error)
}

// Pool is a mutex-guarded cache of available credentials. add/select/evict
// are all O(cache size) and never block on I/O once the cache is populated,
// so a single sync.Mutex is used rather than a dedicated owner goroutine.
type Pool struct {
	mu         sync.Mutex
	cache      []*gateway.Credential
	targetSize int
	store      Store
}

// New constructs a Pool backed by store, capped at targetSize entries.
func New(store Store, targetSize int) *Pool {
	if targetSize < 1 {
		targetSize = 1
	}
	return &Pool{store: store, targetSize: targetSize}
}

// Select picks a credential for rc. If rc already carries a client-supplied
// secret it returns (nil, nil) with FromPool false and leaves rc otherwise
// untouched. Otherwise the pool refills from the store if short, then picks
// uniformly at random.
func (p *Pool) Select(ctx context.Context, rc *gateway.RequestContext) (*gateway.Credential, error) {
	if rc.ClientSecret != "" {
		rc.FromPool = false
		return nil, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if shortfall := p.targetSize - len(p.cache); shortfall > 0 {
		excludeIDs := make([]int64, len(p.cache))
		for i, c := range p.cache {
			excludeIDs[i] = c.ID
		}
		fresh, err := p.store.ListAvailable(ctx, excludeIDs, shortfall)
		if err != nil {
			slog.Warn("key pool refill failed", "error", err)
		} else {
			p.cache = append(p.cache, fresh...)
		}
	}

	if len(p.cache) == 0 {
		return nil, gateway.ErrNoCredential
	}

	chosen := p.cache[rand.IntN(len(p.cache))]
	rc.FromPool = true
	rc.Credential = chosen
	if chosen.BoundProxy != "" {
		rc.EgressProxy = chosen.BoundProxy
	} else {
		rc.EgressProxy = rc.RequestedProxy
	}
	return chosen, nil
}

// Evict idempotently removes a credential from the cache by id. It does not
// touch the persistent row -- disabling is the dispatcher's job, through the
// store directly.
func (p *Pool) Evict(id int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.cache {
		if c.ID == id {
			p.cache = append(p.cache[:i], p.cache[i+1:]...)
			return
		}
	}
}

// Add inserts c into the cache, deduplicating by id.
func (p *Pool) Add(c *gateway.Credential) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, existing := range p.cache {
		if existing.ID == c.ID {
			return
		}
	}
	p.cache = append(p.cache, c)
}

// Len reports the current cache size, for tests and metrics.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cache)
}
