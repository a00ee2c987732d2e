// Package tokencache implements the per-(provider, scope-set) cache with
// single-flight refresh required by spec.md §4.M/§5. A reader whose cached
// token is unexpired never blocks; concurrent callers racing an expired
// entry share exactly one refresh via golang.org/x/sync/singleflight
// (already a direct dependency of this retrieval pack's
// external-secrets-external-secrets and moby-moby modules); a valid token
// nearing expiry triggers a best-effort, non-blocking background refresh
// that silently abandons if one is already in flight. The mutex-guarded
// map-of-entries shape generalizes the registry pattern the teacher uses
// throughout (internal/mcp/registry.go, internal/integrations/registry.go):
// here a per-Cache sync.Mutex guards the map, and each entry does its own
// finer-grained locking with a sync.RWMutex.
package tokencache

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/aerlon/gcpauth/internal/obslog"
)

// Token is the minimal surface tokencache needs from gcpauth.Token, kept as
// an interface so this package doesn't import the root module (which would
// be fine acyclically, but keeping the dependency one-directional makes the
// cache trivially unit-testable with a fake token).
type Token interface {
	Expired() bool
	NearExpiry() bool
}

// FetchFunc performs the actual refresh (an HTTP exchange, typically) and
// returns the new token.
type FetchFunc func(ctx context.Context) (Token, error)

type entry struct {
	mu    sync.RWMutex
	token Token
	group singleflight.Group
	// refreshing gates the non-blocking proactive-refresh attempt so at
	// most one background refresh per entry is ever in flight.
	refreshing atomic.Bool
}

func (e *entry) get() Token {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.token
}

func (e *entry) set(t Token) {
	e.mu.Lock()
	e.token = t
	e.mu.Unlock()
}

// Cache maps a scope-set key (or the empty string, for scope-independent
// providers) to its own entry, each with independent refresh coordination so
// disjoint scope sets can refresh in parallel (spec.md §5).
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	log     *obslog.Logger
}

// New builds an empty cache. log may be nil (no-op logging).
func New(log *obslog.Logger) *Cache {
	return &Cache{entries: make(map[string]*entry), log: log}
}

func (c *Cache) entryFor(key string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

// Get returns a valid token for key, calling fetch at most once among any
// number of concurrent callers racing an expired or empty entry. If the
// cached token is valid but nearing expiry, a background refresh is kicked
// off (best effort) and the still-valid token is returned immediately. A
// refresh failure leaves the previous (possibly stale) entry in place;
// fast-path callers that still observe an unexpired token keep succeeding.
func (c *Cache) Get(ctx context.Context, key string, fetch FetchFunc) (Token, error) {
	e := c.entryFor(key)

	if tok := e.get(); tok != nil && !tok.Expired() {
		if tok.NearExpiry() {
			c.proactiveRefresh(e, key, fetch)
		}
		return tok, nil
	}

	v, err, _ := e.group.Do("refresh", func() (interface{}, error) {
		// Another waiter may have already installed a fresh token while
		// we were acquiring the singleflight call.
		if tok := e.get(); tok != nil && !tok.Expired() {
			return tok, nil
		}
		newTok, err := fetch(ctx)
		if err != nil {
			if c.log != nil {
				c.log.Warnw("token refresh failed", "scope_key", key, "error", err)
			}
			return nil, err
		}
		e.set(newTok)
		return newTok, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Token), nil
}

// proactiveRefresh attempts a non-blocking background refresh of e. If
// another proactive refresh for this entry is already running, the attempt
// is abandoned silently.
func (c *Cache) proactiveRefresh(e *entry, key string, fetch FetchFunc) {
	if !e.refreshing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer e.refreshing.Store(false)
		_, _, _ = e.group.Do("refresh", func() (interface{}, error) {
			if tok := e.get(); tok != nil && !tok.NearExpiry() && !tok.Expired() {
				return tok, nil
			}
			newTok, err := fetch(context.Background())
			if err != nil {
				if c.log != nil {
					c.log.Warnw("proactive token refresh failed, keeping stale token", "scope_key", key, "error", err)
				}
				return nil, err
			}
			e.set(newTok)
			if c.log != nil {
				c.log.Debugw("proactive token refresh succeeded", "scope_key", key)
			}
			return newTok, nil
		})
	}()
}
