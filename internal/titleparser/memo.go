package titleparser

import (
	"encoding/json"

	"github.com/coocood/freecache"
)

// memoCacheSize sizes the freecache.Cache for roughly 2000 small entries, per
// SPEC_FULL.md §9's "Parser memoization" decision.
const memoCacheSize = 2 * 1024 * 1024

// Adapter is C3, a memoized wrapper over Parse. Parse is a pure function of
// its input, so eviction policy is irrelevant to correctness (§9): any
// reasonable bounded cache is safe, and freecache's LRU-ish sampling
// eviction, already used elsewhere in the teacher's stack, is reused here
// rather than hand-rolling an LRU.
type Adapter struct {
	cache *freecache.Cache
}

// NewAdapter builds a bounded memoizing Adapter around Parse.
func NewAdapter() *Adapter {
	return &Adapter{cache: freecache.NewCache(memoCacheSize)}
}

// Parse returns the memoized MetaInfo for title, computing and storing it on
// a cache miss.
func (a *Adapter) Parse(title string) *MetaInfo {
	key := []byte(title)

	if cached, err := a.cache.Get(key); err == nil {
		mi := &MetaInfo{}
		if jsonErr := json.Unmarshal(cached, mi); jsonErr == nil {
			return mi
		}
	}

	mi := Parse(title)

	if encoded, err := json.Marshal(mi); err == nil {
		_ = a.cache.Set(key, encoded, 0)
	}

	return mi
}
