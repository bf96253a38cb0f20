// Package debrid defines the per-vendor driver contract of SPEC_FULL.md
// §4.2: a polymorphic capability set rather than one fat interface, so
// drivers that can't support a capability (e.g. no live single-hash check)
// simply don't implement it.
package debrid

import "context"

// PackHint is attached to an admitted season-pack candidate so the resolve
// step outside the aggregation core can pick the exact file.
type PackHint struct {
	FilePath  string
	FileBytes uint64
	TorrentID string
	FileID    string
}

// Driver is the mandatory surface every vendor adapter implements.
type Driver interface {
	// Identifier returns a stable label used for logging and cache scoping.
	Identifier() string
	// BatchCheckHashes returns the subset of hashes the service reports as
	// already cached. Must be idempotent and must not raise on partial
	// vendor errors — returns an empty set on hard failure.
	BatchCheckHashes(ctx context.Context, hashes []string) map[string]bool
}

// LiveChecker is an optional capability: a slower single-hash fallback used
// when batch didn't confirm a candidate the engine still wants.
type LiveChecker interface {
	LiveCheckHash(ctx context.Context, hash string) bool
}

// SeasonPackInspector is an optional capability: for each provided pack
// hash, reports whether the pack actually contains the target episode and,
// if so, a hint for later file resolution.
type SeasonPackInspector interface {
	BatchInspectSeasonPacks(ctx context.Context, hashes []string, season, episode int) map[string]*PackHint
}

// Cleaner is an optional capability invoked exactly once at end-of-request,
// success or failure.
type Cleaner interface {
	Cleanup()
}
