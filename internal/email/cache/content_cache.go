// Package cache holds normalized message content for a short TTL and makes
// sure concurrent requests for the same message share one provider fetch.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	emaildomain "maildash-backend/internal/email/domain"
)

const DefaultTTL = 5 * time.Minute

// Key builds the composite cache key. Message ids are only unique per
// provider and per mailbox.
func Key(service, account, id string) string {
	return service + ":" + account + ":" + id
}

// AccountPrefix matches every key belonging to one mailbox.
func AccountPrefix(service, account string) string {
	return service + ":" + account + ":"
}

type FetchFunc func(ctx context.Context) (*emaildomain.EmailContent, error)

// Pending is a fetch in progress. It resolves exactly once.
type Pending struct {
	done    chan struct{}
	content *emaildomain.EmailContent
	err     error
}

func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

func (p *Pending) resolve(content *emaildomain.EmailContent, err error) {
	p.content = content
	p.err = err
	close(p.done)
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the fetch completes or ctx is done.
func (p *Pending) Wait(ctx context.Context) (*emaildomain.EmailContent, error) {
	select {
	case <-p.done:
		return p.content, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type entry struct {
	content   *emaildomain.EmailContent
	timestamp time.Time
}

type ContentCache struct {
	mu           sync.Mutex
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	entries      map[string]entry
	inflight     map[string]*Pending
}

// NewContentCache builds a cache. A zero ttl uses DefaultTTL; a zero
// fetchTimeout leaves dispatched fetches unbounded.
func NewContentCache(ttl, fetchTimeout time.Duration) *ContentCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ContentCache{
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
		entries:      make(map[string]entry),
		inflight:     make(map[string]*Pending),
	}
}

// WithClock swaps the time source, for tests.
func (c *ContentCache) WithClock(now func() time.Time) *ContentCache {
	c.now = now
	return c
}

func (c *ContentCache) Get(key string) (*emaildomain.EmailContent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

// getLocked evicts expired entries on access.
func (c *ContentCache) getLocked(key string) (*emaildomain.EmailContent, bool) {
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.timestamp) >= c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return e.content, true
}

func (c *ContentCache) Set(key string, content *emaildomain.EmailContent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{content: content, timestamp: c.now()}
}

func (c *ContentCache) GetInFlight(key string) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[key]
}

// RegisterInFlight registers p unless a fetch is already registered for key,
// in which case the existing one is returned and p is ignored.
func (c *ContentCache) RegisterInFlight(key string, p *Pending) *Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.inflight[key]; ok {
		return existing
	}
	c.inflight[key] = p
	return p
}

// Complete resolves p and drops it from the registry only if the registry
// still points at p. A successful result is cached under the same condition
// so an invalidation during the fetch is not undone by a late result.
func (c *ContentCache) Complete(key string, p *Pending, content *emaildomain.EmailContent, err error) {
	c.mu.Lock()
	if c.inflight[key] == p {
		delete(c.inflight, key)
		if err == nil && content != nil {
			c.entries[key] = entry{content: content, timestamp: c.now()}
		}
	}
	c.mu.Unlock()
	p.resolve(content, err)
}

func (c *ContentCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	delete(c.inflight, key)
}

func (c *ContentCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
	c.inflight = make(map[string]*Pending)
}

// InvalidatePrefix drops every entry whose key starts with prefix and returns
// how many cached entries were removed.
func (c *ContentCache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			n++
		}
	}
	for key := range c.inflight {
		if strings.HasPrefix(key, prefix) {
			delete(c.inflight, key)
		}
	}
	return n
}

func (c *ContentCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// GetOrFetch returns cached content, joins a fetch already in flight, or
// claims the key and dispatches fetch. Claim and join happen under one lock.
// The dispatched fetch is detached from ctx so a caller giving up does not
// fail the other waiters; it is bounded by the cache's fetch timeout instead.
func (c *ContentCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (*emaildomain.EmailContent, error) {
	c.mu.Lock()
	if content, ok := c.getLocked(key); ok {
		c.mu.Unlock()
		return content, nil
	}
	if p, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		return p.Wait(ctx)
	}
	p := NewPending()
	c.inflight[key] = p
	c.mu.Unlock()

	go c.dispatch(context.WithoutCancel(ctx), key, p, fetch)
	return p.Wait(ctx)
}

func (c *ContentCache) dispatch(ctx context.Context, key string, p *Pending, fetch FetchFunc) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}
	content, err := safeFetch(ctx, fetch)
	c.Complete(key, p, content, err)
}

// safeFetch turns a panicking fetch into an error so waiters are released.
func safeFetch(ctx context.Context, fetch FetchFunc) (content *emaildomain.EmailContent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("fetch panicked: %v", r)
		}
	}()
	return fetch(ctx)
}
