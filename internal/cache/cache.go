// Package cache is the Persistent Result Cache (C2, SPEC_FULL.md §4.8): an
// embedded modernc.org/sqlite store behind database/sql, opened with
// PRAGMA journal_mode=WAL, grounded in
// snapetech-plexTuner/internal/plex/dvr.go's sql.Open("sqlite", dbPath)
// idiom (there a one-off Plex-registration write; here a full schema-owning
// store with TTL sweeping and aggregate release counts).
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/multiformats/go-multihash"
	_ "modernc.org/sqlite"

	"github.com/sooti/streamx-aggregator/internal/release"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_records (
	service      TEXT NOT NULL,
	hash         TEXT NOT NULL,
	file_name    TEXT,
	size         INTEGER,
	category     TEXT,
	resolution   TEXT,
	release_key  TEXT,
	data         TEXT,
	content_id   TEXT,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	PRIMARY KEY (service, hash)
);
CREATE INDEX IF NOT EXISTS idx_cache_records_expires_at ON cache_records(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_records_release_key ON cache_records(service, release_key);
CREATE INDEX IF NOT EXISTS idx_cache_records_content_id ON cache_records(content_id);
`

// Record is a persisted entry for one (service, hash), per SPEC_FULL.md §3.
type Record struct {
	Service    string
	Hash       string
	FileName   string
	Size       uint64
	Category   release.Category
	Resolution release.Resolution
	ReleaseKey string
	Data       string
	ExpiresAt  time.Time
}

// ReleaseCounts aggregates non-expired rows for one release key, used by
// C10 to compute satisfiedByDB.
type ReleaseCounts struct {
	ByCategory           map[release.Category]int
	ByCategoryResolution map[release.Category]map[release.Resolution]int
	Total                int
}

// Store is the embedded durable cache, safe for concurrent use.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	ttl    time.Duration

	sweepInterval time.Duration
	stopSweep     chan struct{}
	stopFlush     chan struct{}

	mu      sync.Mutex
	pending []Record
}

// flushInterval is how often buffered upserts (UpsertMany) are drained to
// disk in the background, per §4.8's write-coalescing note: request latency
// never waits on this.
const flushInterval = 5 * time.Second

// Open opens (creating if necessary) the sqlite store under dataDir, in WAL
// mode, per §4.8. A failure here is recoverable at the call site: §7
// requires the system to fall back to no-cache mode rather than fail the
// request path, so callers should treat a non-nil error as "use Store with
// a no-op fallback", not a fatal condition.
func Open(dataDir string, ttl, sweepInterval time.Duration, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dbPath := filepath.Join(dataDir, "cache.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}

	if ttl == 0 {
		ttl = 30 * 24 * time.Hour
	}
	if sweepInterval == 0 {
		sweepInterval = 30 * time.Minute
	}

	s := &Store{
		db:            db,
		logger:        logger,
		ttl:           ttl,
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		stopFlush:     make(chan struct{}),
	}
	go s.sweepLoop()
	go s.flushLoop()
	return s, nil
}

func (s *Store) flushLoop() {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.FlushPending(ctx); err != nil {
				s.logger.Warn("cache: background flush failed", "error", err)
			}
			cancel()
		case <-s.stopFlush:
			return
		}
	}
}

// ContentID computes the go-multihash-encoded secondary index key for
// (service, hash), the wiring point named in SPEC_FULL.md §1.2 for
// multiformats/go-multihash. Exported so a caller that only holds this
// opaque id (e.g. one handed back in an earlier response) can recompute it
// or pass it straight to GetRecordByContentID without knowing the row's
// structured (service, hash) key.
func ContentID(service, hash string) string {
	sum, err := multihash.Sum([]byte(service+"|"+hash), multihash.SHA2_256, -1)
	if err != nil {
		return ""
	}
	return sum.B58String()
}

// Upsert writes one record, last-write-wins on (service, hash).
func (s *Store) Upsert(ctx context.Context, r Record) error {
	return s.upsertMany(ctx, []Record{r})
}

// UpsertMany buffers records for a background flush; the facade (C10) calls
// this so request latency is unaffected by the write, per §4.8's write
// coalescing note.
func (s *Store) UpsertMany(records []Record) {
	s.mu.Lock()
	s.pending = append(s.pending, records...)
	s.mu.Unlock()
}

// FlushPending writes every buffered record. The Store's own flushLoop
// calls it every flushInterval; callers may also call it directly.
func (s *Store) FlushPending(ctx context.Context) error {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	return s.upsertMany(ctx, batch)
}

func (s *Store) upsertMany(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cache_records (service, hash, file_name, size, category, resolution, release_key, data, content_id, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(service, hash) DO UPDATE SET
			file_name=excluded.file_name, size=excluded.size, category=excluded.category,
			resolution=excluded.resolution, release_key=excluded.release_key, data=excluded.data,
			content_id=excluded.content_id, updated_at=excluded.updated_at, expires_at=excluded.expires_at
	`)
	if err != nil {
		return fmt.Errorf("cache: prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, r := range records {
		service := strings.ToLower(r.Service)
		hash := strings.ToLower(r.Hash)
		expiresAt := r.ExpiresAt
		if expiresAt.IsZero() {
			expiresAt = time.Now().Add(s.ttl)
		}
		_, err := stmt.ExecContext(ctx, service, hash, r.FileName, r.Size, string(r.Category),
			string(r.Resolution), r.ReleaseKey, r.Data, ContentID(service, hash), now, now, expiresAt.Unix())
		if err != nil {
			return fmt.Errorf("cache: exec upsert: %w", err)
		}
	}

	return tx.Commit()
}

// KnownCached returns the subset of hashes present and unexpired for
// service.
func (s *Store) KnownCached(ctx context.Context, service string, hashes []string) map[string]bool {
	result := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return result
	}

	placeholders := strings.Repeat("?,", len(hashes))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(hashes)+2)
	args = append(args, strings.ToLower(service))
	for _, h := range hashes {
		args = append(args, strings.ToLower(h))
	}
	args = append(args, time.Now().Unix())

	query := fmt.Sprintf(`SELECT hash FROM cache_records WHERE service = ? AND hash IN (%s) AND expires_at > ?`, placeholders)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logger.Warn("cache: knownCached query failed", "error", err)
		return result
	}
	defer rows.Close()

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err == nil {
			result[hash] = true
		}
	}
	return result
}

// GetRecord returns the record for (service, hash), if present and
// unexpired.
func (s *Store) GetRecord(ctx context.Context, service, hash string) (*Record, bool) {
	row := s.db.QueryRowContext(ctx, `
		SELECT service, hash, file_name, size, category, resolution, release_key, data, expires_at
		FROM cache_records WHERE service = ? AND hash = ? AND expires_at > ?
	`, strings.ToLower(service), strings.ToLower(hash), time.Now().Unix())

	var r Record
	var size sql.NullInt64
	var expiresAt int64
	var category, resolution string
	if err := row.Scan(&r.Service, &r.Hash, &r.FileName, &size, &category, &resolution, &r.ReleaseKey, &r.Data, &expiresAt); err != nil {
		return nil, false
	}
	r.Size = uint64(size.Int64)
	r.Category = release.Category(category)
	r.Resolution = release.Resolution(resolution)
	r.ExpiresAt = time.Unix(expiresAt, 0)
	return &r, true
}

// GetRecordByContentID resolves a row via the secondary content-addressed
// index (§4.8) for a caller that only holds the opaque id, not the
// structured (service, hash) key.
func (s *Store) GetRecordByContentID(ctx context.Context, contentID string) (*Record, bool) {
	row := s.db.QueryRowContext(ctx, `
		SELECT service, hash, file_name, size, category, resolution, release_key, data, expires_at
		FROM cache_records WHERE content_id = ? AND expires_at > ?
	`, contentID, time.Now().Unix())

	var r Record
	var size sql.NullInt64
	var expiresAt int64
	var category, resolution string
	if err := row.Scan(&r.Service, &r.Hash, &r.FileName, &size, &category, &resolution, &r.ReleaseKey, &r.Data, &expiresAt); err != nil {
		return nil, false
	}
	r.Size = uint64(size.Int64)
	r.Category = release.Category(category)
	r.Resolution = release.Resolution(resolution)
	r.ExpiresAt = time.Unix(expiresAt, 0)
	return &r, true
}

// ReleaseCountsFor aggregates non-expired rows for one release key.
func (s *Store) ReleaseCountsFor(ctx context.Context, service, releaseKey string) ReleaseCounts {
	counts := ReleaseCounts{
		ByCategory:           make(map[release.Category]int),
		ByCategoryResolution: make(map[release.Category]map[release.Resolution]int),
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, resolution, COUNT(*) FROM cache_records
		WHERE service = ? AND release_key = ? AND expires_at > ?
		GROUP BY category, resolution
	`, strings.ToLower(service), releaseKey, time.Now().Unix())
	if err != nil {
		s.logger.Warn("cache: releaseCounts query failed", "error", err)
		return counts
	}
	defer rows.Close()

	for rows.Next() {
		var category, resolution string
		var count int
		if err := rows.Scan(&category, &resolution, &count); err != nil {
			continue
		}
		c, r := release.Category(category), release.Resolution(resolution)
		counts.ByCategory[c] += count
		if counts.ByCategoryResolution[c] == nil {
			counts.ByCategoryResolution[c] = make(map[release.Resolution]int)
		}
		counts.ByCategoryResolution[c][r] += count
		counts.Total += count
	}

	return counts
}

// ClearSearchResults detaches every row from its release key (sets
// release_key to NULL), so those rows no longer count toward a release
// key's aggregates. The rows themselves are kept.
func (s *Store) ClearSearchResults(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE cache_records SET release_key = NULL WHERE release_key IS NOT NULL`)
	return err
}

// ClearService removes every row for service.
func (s *Store) ClearService(ctx context.Context, service string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_records WHERE service = ?`, strings.ToLower(service))
	return err
}

// ClearAll removes every row.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache_records`)
	return err
}

// SweepExpired deletes every expired row immediately.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_records WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) sweepLoop() {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if n, err := s.SweepExpired(ctx); err != nil {
				s.logger.Warn("cache: sweep failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("cache: swept expired rows", "count", n)
			}
			cancel()
		case <-s.stopSweep:
			return
		}
	}
}

// Close stops the sweeper, flushes pending upserts, and closes the store.
func (s *Store) Close() error {
	close(s.stopSweep)
	close(s.stopFlush)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.FlushPending(ctx); err != nil {
		s.logger.Warn("cache: flush pending on close failed", "error", err)
	}
	return s.db.Close()
}
