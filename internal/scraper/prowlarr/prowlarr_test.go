package prowlarr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sooti/streamx-aggregator/internal/scraper"
)

func TestSearchMovieFlattensEnabledIndexers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/indexer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 1, "name": "IndexerA", "enable": true, "capabilities": {"limitsDefault": 50}},
			{"id": 2, "name": "IndexerB", "enable": false, "capabilities": {"limitsDefault": 50}}
		]`))
	})
	mux.HandleFunc("/api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 1, "title": "The.Matrix.1999.1080p.BluRay.x264", "infoHash": "ABCDEF0123ABCDEF0123ABCDEF0123ABCDEF0123", "size": 5000000, "seeders": 10}
		]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := New(srv.URL, "test-key", nil, nil)
	results := d.Search(context.Background(), scraper.Query{Type: "movie", Name: "The Matrix"})

	if len(results) != 1 {
		t.Fatalf("got %d results, want 1 (only the enabled indexer is queried)", len(results))
	}
	if results[0].InfoHash != "abcdef0123abcdef0123abcdef0123abcdef0123" {
		t.Errorf("InfoHash = %q, want lowercased", results[0].InfoHash)
	}
	if results[0].Tracker != "IndexerA" {
		t.Errorf("Tracker = %q, want %q", results[0].Tracker, "IndexerA")
	}
}

func TestSearchDegradesToNilOnIndexerListFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(srv.URL, "test-key", nil, nil)
	results := d.Search(context.Background(), scraper.Query{Type: "movie", Name: "Anything"})
	if results != nil {
		t.Errorf("got %+v, want nil on indexer-list failure", results)
	}
}

func TestSearchSeriesFallsBackToSeasonQueryWhenPaged(t *testing.T) {
	var sawSeasonQuery bool
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/indexer", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": 1, "name": "IndexerA", "enable": true, "capabilities": {"limitsDefault": 1}}]`))
	})
	mux.HandleFunc("/api/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") != "Show Name" {
			sawSeasonQuery = true
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id": 1, "title": "Show.Name.S02.1080p", "infoHash": "1111111111111111111111111111111111111111", "size": 1000}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := New(srv.URL, "test-key", nil, nil)
	results := d.Search(context.Background(), scraper.Query{Type: "series", Name: "Show Name", Season: 2})

	if !sawSeasonQuery {
		t.Error("expected a season-scoped query when the series search returned a full page")
	}
	if len(results) == 0 {
		t.Error("expected at least one result from the combined series+season search")
	}
}

func TestGenerateGIDDeterministic(t *testing.T) {
	a := generateGID("same-input")
	b := generateGID("same-input")
	c := generateGID("different-input")

	if string(a) != string(b) {
		t.Error("expected generateGID to be deterministic for the same input")
	}
	if string(a) == string(c) {
		t.Error("expected generateGID to differ for different input")
	}
}
