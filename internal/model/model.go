// Package model holds the small value types shared between the metadata
// collaborator and the aggregation core.
package model

// MetaInfo is canonical title/year metadata for one IMDB id, as resolved by
// the metadata collaborator (internal/cinemeta). FromYear and ToYear are
// equal for movies and single-year series; series with an open or multi-year
// run carry the full range.
type MetaInfo struct {
	Name     string
	IMDBID   uint
	FromYear int
	ToYear   int
}
