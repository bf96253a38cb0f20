// Package scraper defines the indexer driver contract of SPEC_FULL.md §4.3:
// Search(ctx, query) is cancellable and must never raise past the fanout —
// adapters degrade to empty results on error.
package scraper

import (
	"context"

	"github.com/sooti/streamx-aggregator/internal/release"
)

// Query is one search request handed to a Driver.
type Query struct {
	// Type is "movie" or "series".
	Type string
	// Name is the canonical title to search for.
	Name string
	// Season/Episode are non-zero only for episode searches.
	Season  int
	Episode int
	// Language is an optional language hint; empty means unfiltered.
	Language string
}

// Driver is the per-indexer adapter contract.
type Driver interface {
	// Identifier returns a stable label used for logging and cache scoping.
	Identifier() string
	// Search returns candidate releases for query. Implementations must
	// honor ctx cancellation promptly and must degrade errors to an empty
	// slice with a logged warning rather than returning an error that would
	// cancel sibling scrapers.
	Search(ctx context.Context, query Query) []release.ReleaseCandidate
}
