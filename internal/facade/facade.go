// Package facade is the Aggregation Facade (C10, SPEC_FULL.md §4.9): it
// orchestrates metadata resolution, coordinated fanout, filtering, quota
// planning, admission, and background cache persistence behind one call per
// inbound request. It replaces k8v-streamx/internal/addon.go's HTTP-handler-
// embedded orchestration with a standalone service the entrypoint only
// calls into, so the same orchestration is reachable from tests without a
// Fiber request in hand.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sooti/streamx-aggregator/internal/admission"
	"github.com/sooti/streamx-aggregator/internal/cache"
	"github.com/sooti/streamx-aggregator/internal/coordinator"
	"github.com/sooti/streamx-aggregator/internal/debrid"
	"github.com/sooti/streamx-aggregator/internal/errs"
	"github.com/sooti/streamx-aggregator/internal/fanout"
	"github.com/sooti/streamx-aggregator/internal/filter"
	"github.com/sooti/streamx-aggregator/internal/metrics"
	"github.com/sooti/streamx-aggregator/internal/model"
	"github.com/sooti/streamx-aggregator/internal/release"
	"github.com/sooti/streamx-aggregator/internal/scraper"
	"github.com/sooti/streamx-aggregator/internal/titleparser"
)

// MetaResolver is the metadata collaborator contract (§6): read-only lookup
// by IMDB id, implemented by internal/cinemeta.
type MetaResolver interface {
	GetMovieById(ctx context.Context, id string) (*model.MetaInfo, error)
	GetSeriesById(ctx context.Context, id string) (*model.MetaInfo, error)
}

// Request is one inbound (service, type, id, config) aggregation request.
type Request struct {
	Service string
	Type    string // "movie" or "series"
	ID      string // IMDB id, e.g. "tt1234567"
	Season  int
	Episode int

	Languages     []string
	ConfigSummary string

	// PersonalFiles are caller-supplied results that always win over
	// admitted candidates on a hash collision, per §4.9 step 6.
	PersonalFiles []admission.Admitted

	Options admission.Options
	Plan    admission.QuotaPlan
}

// Facade wires every aggregation-core collaborator into one orchestrated
// call per request.
type Facade struct {
	meta        MetaResolver
	parser      *titleparser.Adapter
	coordinator *coordinator.Coordinator
	drivers     []scraper.Driver
	debridDrv   debrid.Driver
	store       *cache.Store
	metrics     *metrics.Metrics
	logger      *slog.Logger
	engine      *admission.Engine

	defaultPlan    admission.QuotaPlan
	defaultOptions admission.Options
}

// New builds a Facade from its collaborators. Any of metrics/logger may be
// nil; a nil logger falls back to slog.Default(). defaultPlan/defaultOptions
// are the config-derived quota plan and policy flags (§6) applied whenever a
// Request doesn't supply its own.
func New(meta MetaResolver, parser *titleparser.Adapter, coord *coordinator.Coordinator, drivers []scraper.Driver, debridDrv debrid.Driver, store *cache.Store, m *metrics.Metrics, logger *slog.Logger, defaultPlan admission.QuotaPlan, defaultOptions admission.Options) *Facade {
	if logger == nil {
		logger = slog.Default()
	}
	return &Facade{
		meta:           meta,
		parser:         parser,
		coordinator:    coord,
		drivers:        drivers,
		debridDrv:      debridDrv,
		store:          store,
		metrics:        m,
		logger:         logger,
		engine:         admission.New(),
		defaultPlan:    defaultPlan,
		defaultOptions: defaultOptions,
	}
}

// Resolve executes the full §4.9 algorithm for req and returns the merged,
// admitted candidate list. The list is nil, with a nil error, when metadata
// resolution or the search degrades or when nothing is admitted.
func (f *Facade) Resolve(ctx context.Context, req Request) ([]admission.Admitted, error) {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.RequestDuration.WithLabelValues(req.Type).Observe(time.Since(start).Seconds())
		}
	}()

	// Step 1: resolve canonical metadata.
	meta, err := f.resolveMeta(ctx, req)
	if err != nil {
		if errs.Degradable(err) {
			f.logger.Warn("facade: metadata resolution degraded, returning empty", "error", err)
			return nil, nil
		}
		return nil, err
	}
	if meta == nil {
		return nil, nil
	}

	// Step 2: derive baseSearchKey.
	baseSearchKey := f.baseSearchKey(req, meta)

	// Step 3+4: coordinated fanout+filter, joining an in-flight call if one
	// exists for this exact (service, type, id, config).
	key := coordinator.CoordinationKey{Service: req.Service, Type: req.Type, ID: req.ID, ConfigSummary: req.ConfigSummary}
	filtered, searchErr, joined := f.coordinator.ExecuteSearch(ctx, key, func(boundedCtx context.Context) ([]release.ReleaseCandidate, error) {
		return f.searchAndFilter(boundedCtx, req, meta, baseSearchKey)
	})
	if f.metrics != nil {
		if joined {
			f.metrics.CoordinatorJoins.Inc()
		} else {
			f.metrics.CoordinatorExecutes.Inc()
		}
	}
	if searchErr != nil {
		if errs.Degradable(searchErr) {
			f.logger.Warn("facade: search degraded, returning empty", "error", searchErr)
			return nil, nil
		}
		return nil, searchErr
	}

	// Step 5: read satisfiedByDB, build the quota plan.
	plan := req.Plan
	if plan.PerCategory == nil {
		plan = f.defaultPlan
		if plan.PerCategory == nil {
			plan = admission.DefaultQuotaPlan()
		}
	}
	if f.store != nil {
		counts := f.store.ReleaseCountsFor(ctx, req.Service, baseSearchKey)
		plan.SatisfiedByDB.ByCategoryResolution = counts.ByCategoryResolution
	}

	// Step 6: run admission, then merge personal files (personal wins on
	// hash collision).
	opts := req.Options
	if opts == (admission.Options{}) {
		opts = f.defaultOptions
	}
	opts.Season, opts.Episode = req.Season, req.Episode
	admitted := f.engine.Run(ctx, filtered, f.debridDrv, plan, opts)
	merged := mergePersonal(admitted, req.PersonalFiles)

	if f.metrics != nil {
		for _, a := range merged {
			f.metrics.AdmissionsTotal.WithLabelValues(string(a.Candidate.Category), string(a.From)).Inc()
		}
	}

	// Step 7: schedule a background upsert; never block the response on it.
	f.scheduleUpsert(req, baseSearchKey, merged)

	// Step 8: return the merged list.
	return merged, nil
}

func (f *Facade) resolveMeta(ctx context.Context, req Request) (*model.MetaInfo, error) {
	var (
		meta *model.MetaInfo
		err  error
	)
	if req.Type == "series" {
		meta, err = f.meta.GetSeriesById(ctx, req.ID)
	} else {
		meta, err = f.meta.GetMovieById(ctx, req.ID)
	}
	if err != nil {
		return nil, errs.New(errs.KindTransientUpstream, "facade.resolveMeta", err)
	}
	return meta, nil
}

func (f *Facade) baseSearchKey(req Request, meta *model.MetaInfo) string {
	if req.Type == "series" && req.Season > 0 && req.Episode > 0 {
		return fmt.Sprintf("%s s%02d e%02d", strings.ToLower(meta.Name), req.Season, req.Episode)
	}
	return fmt.Sprintf("%s %d", strings.ToLower(meta.Name), meta.FromYear)
}

// searchAndFilter runs C8 fanout then applies C4's filters, sharing scraper
// results across services via the coordinator's share cache when possible.
func (f *Facade) searchAndFilter(ctx context.Context, req Request, meta *model.MetaInfo, baseSearchKey string) ([]release.ReleaseCandidate, error) {
	shareKey := coordinator.ScraperShareKey{Type: req.Type, ID: req.ID, ConfigSummary: req.ConfigSummary}

	candidates, ok := f.coordinator.GetShared(shareKey)
	if !ok {
		query := scraper.Query{Type: req.Type, Name: meta.Name, Season: req.Season, Episode: req.Episode}
		candidates = fanout.Run(ctx, f.drivers, req.Languages, query, f.logger)
		f.coordinator.PutShared(shareKey, candidates)
	}

	filtered := make([]release.ReleaseCandidate, 0, len(candidates))
	for _, c := range candidates {
		mi := f.parser.Parse(c.Title)
		c.FromSeason, c.ToSeason, c.Episode = mi.FromSeason, mi.ToSeason, mi.Episode

		if req.Type == "series" {
			if !filter.MatchesSeriesTitle(mi.Title, meta.Name) {
				continue
			}
		} else {
			// Movies: drop series-like titles and enforce year + word
			// overlap, per §4.9 step 4.
			if mi.FromSeason != 0 || mi.Episode != 0 {
				continue
			}
			if !filter.MovieMatches(mi.Title, mi.Year, meta.FromYear) {
				continue
			}
			if !filter.WordOverlapMatches(mi.Title, meta.Name) {
				continue
			}
		}

		filtered = append(filtered, c)
	}

	return filtered, nil
}

func mergePersonal(admitted []admission.Admitted, personal []admission.Admitted) []admission.Admitted {
	if len(personal) == 0 {
		return admitted
	}

	byHash := make(map[string]admission.Admitted, len(admitted)+len(personal))
	var order []string
	for _, a := range admitted {
		hash := strings.ToLower(a.Candidate.InfoHash)
		if _, exists := byHash[hash]; !exists {
			order = append(order, hash)
		}
		byHash[hash] = a
	}
	for _, p := range personal {
		hash := strings.ToLower(p.Candidate.InfoHash)
		if _, exists := byHash[hash]; !exists {
			order = append(order, hash)
		}
		byHash[hash] = p
	}

	merged := make([]admission.Admitted, 0, len(order))
	for _, hash := range order {
		merged = append(merged, byHash[hash])
	}
	return merged
}

// ResolveByContentID looks up a previously-admitted row via C2's secondary
// content-addressed index (§4.8), for a caller that only holds the opaque
// content id handed back on an earlier Resolve (rather than the structured
// service/hash pair) — the read half of the write-side content_id column
// populated by scheduleUpsert.
func (f *Facade) ResolveByContentID(ctx context.Context, contentID string) (*cache.Record, bool) {
	if f.store == nil {
		return nil, false
	}
	return f.store.GetRecordByContentID(ctx, contentID)
}

func (f *Facade) scheduleUpsert(req Request, releaseKey string, merged []admission.Admitted) {
	records := make([]cache.Record, 0, len(merged))
	for _, a := range merged {
		records = append(records, cache.Record{
			Service:    req.Service,
			Hash:       a.Candidate.InfoHash,
			FileName:   a.Candidate.Title,
			Size:       a.Candidate.Size,
			Category:   a.Candidate.Category,
			Resolution: a.Candidate.Resolution,
			ReleaseKey: releaseKey,
		})
	}
	if len(records) > 0 && f.store != nil {
		f.store.UpsertMany(records)
	}
}
