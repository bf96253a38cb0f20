// Package coordinator is the Search Coordinator (C7, SPEC_FULL.md §4.5): it
// deduplicates concurrent identical aggregation requests and shares scraper
// results across services for a short window. In-flight joining is built on
// golang.org/x/sync/singleflight, generalizing the narrower
// torrent-search/internal/search/cache.go cachedSearchResponse.refreshOnce
// sync.Once idiom (a single-entry join) into a keyed, process-wide
// coordinator; the scraper-share snapshot store is a mutex-guarded map
// bounded by Config.ShareCap entries and Config.ShareTTL age.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sooti/streamx-aggregator/internal/release"
)

// CoordinationKey identifies one in-flight aggregation request.
type CoordinationKey struct {
	Service       string
	Type          string
	ID            string
	ConfigSummary string
}

func (k CoordinationKey) string() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.Service, k.Type, k.ID, k.ConfigSummary)
}

// ScraperShareKey identifies one scraper-result window shareable across
// services, without the service dimension.
type ScraperShareKey struct {
	Type          string
	ID            string
	ConfigSummary string
}

func (k ScraperShareKey) string() string {
	return fmt.Sprintf("%s|%s|%s", k.Type, k.ID, k.ConfigSummary)
}

type shareEntry struct {
	results   []release.ReleaseCandidate
	expiresAt time.Time
}

// Coordinator holds the singleflight group and the scraper-share cache.
// Both are explicit, constructed services per §9 — never package-level
// globals.
type Coordinator struct {
	group singleflight.Group

	timeout time.Duration
	shareTTL time.Duration
	shareCap int

	mu    sync.Mutex
	share map[string]shareEntry

	stopSweep chan struct{}
}

// Config configures coordination timeouts and the scraper-share cache.
type Config struct {
	Timeout  time.Duration
	ShareTTL time.Duration
	ShareCap int
}

func (c Config) withDefaults() Config {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ShareTTL == 0 {
		c.ShareTTL = 60 * time.Second
	}
	if c.ShareCap == 0 {
		c.ShareCap = 500
	}
	return c
}

// New builds a Coordinator and starts its periodic sweep goroutine.
func New(cfg Config) *Coordinator {
	cfg = cfg.withDefaults()
	c := &Coordinator{
		timeout:   cfg.Timeout,
		shareTTL:  cfg.ShareTTL,
		shareCap:  cfg.ShareCap,
		share:     make(map[string]shareEntry),
		stopSweep: make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// ExecuteSearch deduplicates concurrent identical calls for key: the first
// caller runs doSearch under a timeout-bounded context; later callers join
// and receive the same result or error, per §4.5 step 1-3 and §8 property 8.
func (c *Coordinator) ExecuteSearch(ctx context.Context, key CoordinationKey, doSearch func(context.Context) ([]release.ReleaseCandidate, error)) ([]release.ReleaseCandidate, error, bool) {
	boundedCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	v, err, shared := c.group.Do(key.string(), func() (interface{}, error) {
		return doSearch(boundedCtx)
	})
	if v == nil {
		return nil, err, shared
	}
	return v.([]release.ReleaseCandidate), err, shared
}

// GetShared returns scraper results shared under key, if present and
// unexpired.
func (c *Coordinator) GetShared(key ScraperShareKey) ([]release.ReleaseCandidate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.share[key.string()]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.results, true
}

// PutShared stores scraper results under key for the configured TTL,
// evicting the oldest entry first if over cap.
func (c *Coordinator) PutShared(key ScraperShareKey, results []release.ReleaseCandidate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.share) >= c.shareCap {
		c.evictOldestLocked()
	}

	c.share[key.string()] = shareEntry{
		results:   results,
		expiresAt: time.Now().Add(c.shareTTL),
	}
}

func (c *Coordinator) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	for k, v := range c.share {
		if oldestKey == "" || v.expiresAt.Before(oldestAt) {
			oldestKey, oldestAt = k, v.expiresAt
		}
	}
	if oldestKey != "" {
		delete(c.share, oldestKey)
	}
}

func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopSweep:
			return
		}
	}
}

func (c *Coordinator) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for k, v := range c.share {
		if now.After(v.expiresAt) {
			delete(c.share, k)
		}
	}
	for len(c.share) > c.shareCap {
		c.evictOldestLocked()
	}
}

// Shutdown cancels the sweep and drops both maps.
func (c *Coordinator) Shutdown() {
	close(c.stopSweep)
	c.mu.Lock()
	c.share = make(map[string]shareEntry)
	c.mu.Unlock()
}
