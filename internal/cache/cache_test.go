package cache

import (
	"context"
	"testing"
	"time"

	"github.com/sooti/streamx-aggregator/internal/release"
)

func openTestStore(t *testing.T, ttl, sweepInterval time.Duration) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), ttl, sweepInterval, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertIdempotentOnConflict(t *testing.T) {
	s := openTestStore(t, time.Hour, time.Hour)
	ctx := context.Background()

	r := Record{Service: "RealDebrid", Hash: "ABCDEF", FileName: "first.mkv", Size: 100, Category: release.CategoryBluRay, Resolution: release.Resolution1080p}
	if err := s.Upsert(ctx, r); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	r2 := Record{Service: "RealDebrid", Hash: "abcdef", FileName: "updated.mkv", Size: 200, Category: release.CategoryRemux, Resolution: release.Resolution2160p}
	if err := s.Upsert(ctx, r2); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	rec, ok := s.GetRecord(ctx, "realdebrid", "abcdef")
	if !ok {
		t.Fatal("expected record to exist")
	}
	if rec.FileName != "updated.mkv" || rec.Size != 200 || rec.Category != release.CategoryRemux {
		t.Errorf("got %+v, want last-write-wins fields from second upsert", rec)
	}

	var count int
	row := s.db.QueryRow(`SELECT COUNT(*) FROM cache_records WHERE service = 'realdebrid' AND hash = 'abcdef'`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count query: %v", err)
	}
	if count != 1 {
		t.Errorf("got %d rows for (service,hash), want exactly 1", count)
	}
}

func TestUpsertManyAndFlushPending(t *testing.T) {
	s := openTestStore(t, time.Hour, time.Hour)
	ctx := context.Background()

	s.UpsertMany([]Record{
		{Service: "realdebrid", Hash: "hash1", Category: release.CategoryBluRay, Resolution: release.Resolution1080p},
		{Service: "realdebrid", Hash: "hash2", Category: release.CategoryWebDL, Resolution: release.Resolution720p},
	})

	if _, ok := s.GetRecord(ctx, "realdebrid", "hash1"); ok {
		t.Fatal("expected record to be buffered, not yet visible before FlushPending")
	}

	if err := s.FlushPending(ctx); err != nil {
		t.Fatalf("FlushPending: %v", err)
	}

	if _, ok := s.GetRecord(ctx, "realdebrid", "hash1"); !ok {
		t.Error("expected hash1 to be visible after FlushPending")
	}
	if _, ok := s.GetRecord(ctx, "realdebrid", "hash2"); !ok {
		t.Error("expected hash2 to be visible after FlushPending")
	}
}

func TestGetRecordByContentIDResolvesWriteSideIndex(t *testing.T) {
	s := openTestStore(t, time.Hour, time.Hour)
	ctx := context.Background()

	r := Record{Service: "RealDebrid", Hash: "ABCDEF", FileName: "movie.mkv", Size: 42, Category: release.CategoryRemux, Resolution: release.Resolution2160p}
	if err := s.Upsert(ctx, r); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	id := ContentID("realdebrid", "abcdef")
	rec, ok := s.GetRecordByContentID(ctx, id)
	if !ok {
		t.Fatal("expected record to be resolvable by its content id")
	}
	if rec.FileName != "movie.mkv" || rec.Service != "realdebrid" || rec.Hash != "abcdef" {
		t.Errorf("got %+v, want the row upserted under (realdebrid, abcdef)", rec)
	}

	if _, ok := s.GetRecordByContentID(ctx, ContentID("realdebrid", "nonexistent")); ok {
		t.Error("expected no record for a content id with no matching row")
	}
}

func TestKnownCachedExcludesExpired(t *testing.T) {
	s := openTestStore(t, time.Hour, time.Hour)
	ctx := context.Background()

	if err := s.Upsert(ctx, Record{Service: "rd", Hash: "fresh", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}
	if err := s.Upsert(ctx, Record{Service: "rd", Hash: "stale", ExpiresAt: time.Now().Add(-time.Hour)}); err != nil {
		t.Fatalf("upsert stale: %v", err)
	}

	known := s.KnownCached(ctx, "rd", []string{"fresh", "stale", "missing"})
	if !known["fresh"] {
		t.Error("expected fresh hash to be known-cached")
	}
	if known["stale"] {
		t.Error("expected expired hash to be excluded from known-cached")
	}
	if known["missing"] {
		t.Error("expected absent hash to be excluded")
	}
}

func TestSweepExpiredRemovesStaleRows(t *testing.T) {
	s := openTestStore(t, time.Hour, time.Hour)
	ctx := context.Background()

	if err := s.Upsert(ctx, Record{Service: "rd", Hash: "stale", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, Record{Service: "rd", Hash: "fresh", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	n, err := s.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("swept %d rows, want 1", n)
	}

	if _, ok := s.GetRecord(ctx, "rd", "stale"); ok {
		t.Error("expected stale row to be gone after sweep")
	}
	if _, ok := s.GetRecord(ctx, "rd", "fresh"); !ok {
		t.Error("expected fresh row to survive sweep")
	}
}

func TestReleaseCountsForAggregatesByCategoryAndResolution(t *testing.T) {
	s := openTestStore(t, time.Hour, time.Hour)
	ctx := context.Background()

	records := []Record{
		{Service: "rd", Hash: "h1", ReleaseKey: "show:1:3", Category: release.CategoryRemux, Resolution: release.Resolution2160p},
		{Service: "rd", Hash: "h2", ReleaseKey: "show:1:3", Category: release.CategoryRemux, Resolution: release.Resolution1080p},
		{Service: "rd", Hash: "h3", ReleaseKey: "show:1:3", Category: release.CategoryBluRay, Resolution: release.Resolution1080p},
		{Service: "rd", Hash: "h4", ReleaseKey: "other:9:9", Category: release.CategoryRemux, Resolution: release.Resolution2160p},
	}
	for _, r := range records {
		if err := s.Upsert(ctx, r); err != nil {
			t.Fatalf("upsert %+v: %v", r, err)
		}
	}

	counts := s.ReleaseCountsFor(ctx, "rd", "show:1:3")
	if counts.Total != 3 {
		t.Errorf("Total = %d, want 3", counts.Total)
	}
	if counts.ByCategory[release.CategoryRemux] != 2 {
		t.Errorf("ByCategory[Remux] = %d, want 2", counts.ByCategory[release.CategoryRemux])
	}
	if counts.ByCategory[release.CategoryBluRay] != 1 {
		t.Errorf("ByCategory[BluRay] = %d, want 1", counts.ByCategory[release.CategoryBluRay])
	}
	if counts.ByCategoryResolution[release.CategoryRemux][release.Resolution2160p] != 1 {
		t.Errorf("ByCategoryResolution[Remux][2160p] = %d, want 1", counts.ByCategoryResolution[release.CategoryRemux][release.Resolution2160p])
	}
}

func TestClearServiceRemovesOnlyThatService(t *testing.T) {
	s := openTestStore(t, time.Hour, time.Hour)
	ctx := context.Background()

	if err := s.Upsert(ctx, Record{Service: "rd", Hash: "h1"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := s.Upsert(ctx, Record{Service: "other", Hash: "h2"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := s.ClearService(ctx, "rd"); err != nil {
		t.Fatalf("ClearService: %v", err)
	}

	if _, ok := s.GetRecord(ctx, "rd", "h1"); ok {
		t.Error("expected rd's record to be cleared")
	}
	if _, ok := s.GetRecord(ctx, "other", "h2"); !ok {
		t.Error("expected other service's record to survive")
	}
}

func TestClearAllRemovesEverything(t *testing.T) {
	s := openTestStore(t, time.Hour, time.Hour)
	ctx := context.Background()

	s.Upsert(ctx, Record{Service: "rd", Hash: "h1"})
	s.Upsert(ctx, Record{Service: "other", Hash: "h2"})

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	if _, ok := s.GetRecord(ctx, "rd", "h1"); ok {
		t.Error("expected all records cleared")
	}
	if _, ok := s.GetRecord(ctx, "other", "h2"); ok {
		t.Error("expected all records cleared")
	}
}
