// Package admission is the Cache-Admission Engine (C9, SPEC_FULL.md §4.7):
// the tiered, quota-driven selection of which filtered candidates are
// admitted as cached streams. It is the core of the aggregation pipeline —
// grouping by category×resolution, walking quality tiers, applying quotas
// (net of whatever the persistent cache already satisfied), diversifying
// codecs, inspecting season packs in rounds, and supporting early exit.
//
// The quality/resolution ordinal scores used for the season-pack sort are
// generalized from k8v-streamx/internal/addon/addon.go's
// getQualityScore/resolutionName tables (there one composite rank; here the
// two independent axes release.Category.QualityScore/Resolution.ResolutionScore
// the tiered walk needs). The season-pack-suppression shape — a pack found
// together with specific episodes of the same release must not
// double-count — follows the jatassi-SlipStream scoring_selection_test.go
// pack-suppression scenario (reference only, not a teacher).
package admission

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/time/rate"

	"github.com/sooti/streamx-aggregator/internal/debrid"
	"github.com/sooti/streamx-aggregator/internal/filter"
	"github.com/sooti/streamx-aggregator/internal/release"
)

// From labels how a candidate was admitted, per §4.7's output shape.
type From string

const (
	FromAPIBatch          From = "API Batch"
	FromAPILive           From = "API Live"
	FromBatchPackInspection From = "Batch Pack Inspection"
)

// Admitted is one admitted candidate, tagged per §4.7.
type Admitted struct {
	Candidate     release.ReleaseCandidate
	Source        string
	From          From
	EpisodeFileHint *debrid.PackHint
}

// QuotaPlan is the resolved limits for one request, per SPEC_FULL.md §3.
type QuotaPlan struct {
	PerCategory map[release.Category]int
	SatisfiedByDB struct {
		ByCategoryResolution map[release.Category]map[release.Resolution]int
	}
	PerCodecMax         map[release.Codec]int
	GlobalResolutionCap int
}

// DefaultQuotaPlan returns the §3 default quota plan.
func DefaultQuotaPlan() QuotaPlan {
	qp := QuotaPlan{
		PerCategory: map[release.Category]int{
			release.CategoryRemux:        2,
			release.CategoryBluRay:       2,
			release.CategoryWebDL:        2,
			release.CategoryRip:          1,
			release.CategoryAudioFocused: 1,
			release.CategoryOther:        10,
		},
		PerCodecMax: map[release.Codec]int{},
	}
	qp.SatisfiedByDB.ByCategoryResolution = map[release.Category]map[release.Resolution]int{}
	return qp
}

// Options carries the request-scoped policy flags of §6.
type Options struct {
	SkipWebripEnabled      bool
	SkipAACOpusEnabled     bool
	PenaltyAACOpusEnabled  bool
	DiversifyCodecsEnabled bool
	// SharedPackEpisodeQuota is carried from config but not read by the
	// engine: packs and specific episodes always share one counter per
	// (category, resolution), whatever its value.
	SharedPackEpisodeQuota bool
	MaxPacksToInspect      int
	MaxPackRounds          int
	LiveCheckRatePerSec    float64
	LiveCheckBurst         int

	// Season/Episode are non-zero only for episode-target requests.
	Season  int
	Episode int
}

func (o Options) withDefaults() Options {
	if o.MaxPacksToInspect == 0 {
		o.MaxPacksToInspect = 5
	}
	if o.MaxPackRounds == 0 {
		o.MaxPackRounds = 3
	}
	if o.LiveCheckRatePerSec == 0 {
		o.LiveCheckRatePerSec = 5
	}
	if o.LiveCheckBurst == 0 {
		o.LiveCheckBurst = 10
	}
	return o
}

type tier struct {
	categories  []release.Category
	resolutions []release.Resolution
}

var (
	tierGolden = tier{
		categories:  []release.Category{release.CategoryRemux, release.CategoryBluRay, release.CategoryWebDL},
		resolutions: []release.Resolution{release.Resolution2160p, release.Resolution1080p},
	}
	tierCompromiseHiRes = tier{
		categories:  []release.Category{release.CategoryRip},
		resolutions: []release.Resolution{release.Resolution2160p, release.Resolution1080p},
	}
	tierLastResortHiRes = tier{
		categories:  []release.Category{release.CategoryAudioFocused, release.CategoryOther},
		resolutions: []release.Resolution{release.Resolution2160p, release.Resolution1080p},
	}
	tierFallbackLowRes = tier{
		categories:  []release.Category{release.CategoryRemux, release.CategoryBluRay, release.CategoryWebDL},
		resolutions: []release.Resolution{release.Resolution720p},
	}
	tierCompromiseLowRes = tier{
		categories:  []release.Category{release.CategoryRip},
		resolutions: []release.Resolution{release.Resolution720p},
	}
	tierLastResortLowRes = tier{
		categories:  []release.Category{release.CategoryAudioFocused, release.CategoryOther},
		resolutions: []release.Resolution{release.Resolution720p, release.Resolution480p},
	}
)

// trackers is AdmissionTrackers (§3): per-request counters held only for
// the duration of one aggregation.
type trackers struct {
	byCategoryResolution map[release.Category]map[release.Resolution]int
	byResolution         map[release.Resolution]int
	byCodecPerResolution map[release.Resolution]map[release.Codec]int

	// considered marks a (category, resolution) bucket once its owning tier
	// has been fully walked — every one of its candidates either admitted or
	// permanently skipped. A bucket's candidates are never revisited by a
	// later tier (each (category, resolution) pair belongs to exactly one
	// tier), so once considered, it can never supply another admission
	// regardless of remaining quota.
	considered map[release.Category]map[release.Resolution]bool
}

func newTrackers() *trackers {
	return &trackers{
		byCategoryResolution: map[release.Category]map[release.Resolution]int{},
		byResolution:         map[release.Resolution]int{},
		byCodecPerResolution: map[release.Resolution]map[release.Codec]int{},
		considered:           map[release.Category]map[release.Resolution]bool{},
	}
}

// markConsidered records that every (category, resolution) bucket named by
// tr has now been fully walked.
func (t *trackers) markConsidered(tr tier) {
	for _, c := range tr.categories {
		if t.considered[c] == nil {
			t.considered[c] = map[release.Resolution]bool{}
		}
		for _, r := range tr.resolutions {
			t.considered[c][r] = true
		}
	}
}

func (t *trackers) isConsidered(c release.Category, r release.Resolution) bool {
	return t.considered[c][r]
}

func (t *trackers) admitted(c release.Category, r release.Resolution) int {
	if m, ok := t.byCategoryResolution[c]; ok {
		return m[r]
	}
	return 0
}

func (t *trackers) record(c release.Category, r release.Resolution, codec release.Codec) {
	if t.byCategoryResolution[c] == nil {
		t.byCategoryResolution[c] = map[release.Resolution]int{}
	}
	t.byCategoryResolution[c][r]++
	t.byResolution[r]++
	if t.byCodecPerResolution[r] == nil {
		t.byCodecPerResolution[r] = map[release.Codec]int{}
	}
	t.byCodecPerResolution[r][codec]++
}

// Engine runs the admission algorithm against one driver.
type Engine struct{}

// New builds an Engine. It carries no state of its own — every invocation
// is scoped to one request's candidates, driver, and QuotaPlan.
func New() *Engine {
	return &Engine{}
}

// Run executes §4.7's algorithm end to end, calling driver.Cleanup()
// exactly once on every exit path (step 9, §8 property 7).
func (e *Engine) Run(ctx context.Context, candidates []release.ReleaseCandidate, drv debrid.Driver, plan QuotaPlan, opts Options) []Admitted {
	opts = opts.withDefaults()

	defer func() {
		if cleaner, ok := drv.(debrid.Cleaner); ok {
			cleaner.Cleanup()
		}
	}()

	t := newTrackers()

	// Step 1: normalize/enrich, drop incomplete.
	enriched := make([]release.ReleaseCandidate, 0, len(candidates))
	for _, c := range candidates {
		if !release.Normalize(&c) {
			continue
		}
		c.Category, c.Resolution, c.Codec = release.Classify(c.Title, release.ClassifyOptions{PenaltyAACOpusEnabled: opts.PenaltyAACOpusEnabled})
		enriched = append(enriched, c)
	}

	// Step 2: short-circuit if all quotas are already exhausted by the DB.
	if allQuotasExhausted(plan) {
		return nil
	}

	// Step 3: batch pre-check.
	hashes := make([]string, 0, len(enriched))
	for _, c := range enriched {
		hashes = append(hashes, c.InfoHash)
	}
	preCached := drv.BatchCheckHashes(ctx, hashes)
	if preCached == nil {
		preCached = map[string]bool{}
	}

	// Step 4: group by category/resolution, sorted descending by size.
	groups := groupCandidates(enriched)

	var liveLimiter *rate.Limiter
	if _, ok := drv.(debrid.LiveChecker); ok {
		liveLimiter = rate.NewLimiter(rate.Limit(opts.LiveCheckRatePerSec), opts.LiveCheckBurst)
	}

	var admitted []Admitted

	// Season packs for the target episode are inspected after the hi-res
	// tiers (step 8), so the hi-res early exit waits while any are pending.
	packsPending := false
	if opts.Season > 0 && opts.Episode > 0 {
		if _, ok := drv.(debrid.SeasonPackInspector); ok {
			packsPending = len(collectPacks(enriched, opts.Season)) > 0
		}
	}

	tiers := []tier{tierGolden, tierCompromiseHiRes, tierLastResortHiRes}
	for _, tr := range tiers {
		if ctx.Err() != nil {
			return admitted
		}
		if tierSatisfied(tr, plan, t) {
			continue
		}
		admitted = append(admitted, e.walkTier(ctx, tr, groups, preCached, drv, plan, t, opts, liveLimiter)...)
		t.markConsidered(tr)
		if !packsPending && earlyExitApplies(plan, t, groups) {
			return admitted
		}
	}

	// Step 8: season-pack inspection, between hi-res and lo-res tiers.
	if opts.Season > 0 && opts.Episode > 0 {
		if inspector, ok := drv.(debrid.SeasonPackInspector); ok {
			admitted = append(admitted, e.inspectSeasonPacks(ctx, enriched, inspector, plan, t, opts, drv.Identifier())...)
		}
	}

	// Step 7: re-check high-quality totals before descending to lo-res.
	if highQualitySatisfied(plan, t, groups) {
		return admitted
	}

	lowResTiers := []tier{tierFallbackLowRes, tierCompromiseLowRes, tierLastResortLowRes}
	for _, tr := range lowResTiers {
		if ctx.Err() != nil {
			return admitted
		}
		if tierSatisfied(tr, plan, t) {
			continue
		}
		admitted = append(admitted, e.walkTier(ctx, tr, groups, preCached, drv, plan, t, opts, liveLimiter)...)
		t.markConsidered(tr)
		if earlyExitApplies(plan, t, groups) {
			return admitted
		}
	}

	return admitted
}

func groupCandidates(candidates []release.ReleaseCandidate) map[release.Category]map[release.Resolution][]release.ReleaseCandidate {
	groups := map[release.Category]map[release.Resolution][]release.ReleaseCandidate{}
	for _, c := range candidates {
		if groups[c.Category] == nil {
			groups[c.Category] = map[release.Resolution][]release.ReleaseCandidate{}
		}
		groups[c.Category][c.Resolution] = append(groups[c.Category][c.Resolution], c)
	}
	for _, byRes := range groups {
		for res, list := range byRes {
			sort.SliceStable(list, func(i, j int) bool { return list[i].Size > list[j].Size })
			byRes[res] = list
		}
	}
	return groups
}

func remaining(plan QuotaPlan, c release.Category, r release.Resolution, admittedCount int) int {
	max := plan.PerCategory[c]
	satisfied := 0
	if byRes, ok := plan.SatisfiedByDB.ByCategoryResolution[c]; ok {
		satisfied = byRes[r]
	}
	need := max - satisfied - admittedCount
	if need < 0 {
		return 0
	}
	return need
}

func allQuotasExhausted(plan QuotaPlan) bool {
	resolutions := []release.Resolution{release.Resolution2160p, release.Resolution1080p, release.Resolution720p, release.Resolution480p}
	for c := range plan.PerCategory {
		for _, r := range resolutions {
			if remaining(plan, c, r, 0) > 0 {
				return false
			}
		}
	}
	return len(plan.PerCategory) > 0
}

func tierSatisfied(tr tier, plan QuotaPlan, t *trackers) bool {
	for _, c := range tr.categories {
		for _, r := range tr.resolutions {
			if remaining(plan, c, r, t.admitted(c, r)) > 0 {
				return false
			}
		}
	}
	return true
}

// highQualitySatisfied checks Remux/BluRay/WEB-DL quotas at 2160p+1080p,
// treating an empty-and-unreachable bucket as satisfied (§9 open question 3).
func highQualitySatisfied(plan QuotaPlan, t *trackers, groups map[release.Category]map[release.Resolution][]release.ReleaseCandidate) bool {
	for _, c := range tierGolden.categories {
		for _, r := range tierGolden.resolutions {
			if bucketOutstanding(plan, t, groups, c, r) {
				return false
			}
		}
	}
	return true
}

// earlyExitApplies implements §4.7 step 6's global short-circuit and §9's
// stricter BluRay-zero decision: Remux and BluRay quotas are met at both
// 2160p and 1080p — "met" meaning quota satisfied OR the category's bucket
// is empty and unreachable (no further candidates can arrive for it, since
// the full candidate set is grouped up front).
func earlyExitApplies(plan QuotaPlan, t *trackers, groups map[release.Category]map[release.Resolution][]release.ReleaseCandidate) bool {
	for _, c := range []release.Category{release.CategoryRemux, release.CategoryBluRay} {
		for _, r := range []release.Resolution{release.Resolution2160p, release.Resolution1080p} {
			if bucketOutstanding(plan, t, groups, c, r) {
				return false
			}
		}
	}
	return true
}

// bucketOutstanding reports whether (c, r) still has quota remaining AND can
// still receive another admission — i.e. whether it can still change the
// early-exit outcome. A bucket whose tier has already been fully walked
// (t.isConsidered) has had every one of its candidates either admitted or
// permanently skipped, so it can never supply another admission even if raw
// quota remains open; only a not-yet-walked, non-empty bucket is genuinely
// outstanding.
func bucketOutstanding(plan QuotaPlan, t *trackers, groups map[release.Category]map[release.Resolution][]release.ReleaseCandidate, c release.Category, r release.Resolution) bool {
	if remaining(plan, c, r, t.admitted(c, r)) <= 0 {
		return false
	}
	if t.isConsidered(c, r) {
		return false
	}
	if byRes, ok := groups[c]; ok {
		if len(byRes[r]) > 0 {
			return true
		}
	}
	return false
}

// walkTier admits candidates within one tier's categories×resolutions, in
// order. The global early-exit short-circuit (§4.7 step 6) is evaluated
// between tiers, not mid-tier, so a tier's later categories (e.g. WEB-DL
// after Remux within Golden) still get a chance once an earlier category's
// quota is met within the same tier — see §8 scenario E1.
func (e *Engine) walkTier(ctx context.Context, tr tier, groups map[release.Category]map[release.Resolution][]release.ReleaseCandidate, preCached map[string]bool, drv debrid.Driver, plan QuotaPlan, t *trackers, opts Options, liveLimiter *rate.Limiter) []Admitted {
	var admitted []Admitted

	for _, c := range tr.categories {
		for _, r := range tr.resolutions {
			for _, cand := range groups[c][r] {
				if ctx.Err() != nil {
					return admitted
				}
				if ok, a := e.considerCandidate(ctx, cand, preCached, drv, plan, t, opts, liveLimiter); ok {
					admitted = append(admitted, a)
				}
			}
		}
	}

	return admitted
}

func (e *Engine) considerCandidate(ctx context.Context, cand release.ReleaseCandidate, preCached map[string]bool, drv debrid.Driver, plan QuotaPlan, t *trackers, opts Options, liveLimiter *rate.Limiter) (bool, Admitted) {
	// Episode-target relevance (§4.7 step 6): drop candidates for some
	// other episode; packs are deferred to step 8.
	if opts.Season > 0 && opts.Episode > 0 {
		if !candidateRelevantToEpisode(cand.Title, opts.Season, opts.Episode) {
			return false, Admitted{}
		}
		if filter.IsSeasonPack(cand.Title, opts.Season) || filter.IsRelevantMultiSeasonPack(cand.Title, opts.Season) {
			return false, Admitted{}
		}
	}

	if opts.SkipWebripEnabled && strings.Contains(strings.ToLower(cand.Title), "webrip") {
		return false, Admitted{}
	}
	if opts.SkipAACOpusEnabled && containsAACOpus(cand.Title) {
		return false, Admitted{}
	}

	if opts.DiversifyCodecsEnabled && cand.Codec != release.CodecUnknown {
		max, ok := plan.PerCodecMax[cand.Codec]
		if ok && max > 0 {
			if byCodec := t.byCodecPerResolution[cand.Resolution]; byCodec != nil && byCodec[cand.Codec] >= max {
				return false, Admitted{}
			}
		}
	}

	if remaining(plan, cand.Category, cand.Resolution, t.admitted(cand.Category, cand.Resolution)) <= 0 {
		return false, Admitted{}
	}

	if plan.GlobalResolutionCap > 0 && t.byResolution[cand.Resolution] >= plan.GlobalResolutionCap {
		return false, Admitted{}
	}

	var from From
	switch {
	case preCached[cand.InfoHash]:
		from = FromAPIBatch
	case tryLiveCheck(ctx, drv, cand.InfoHash, liveLimiter):
		from = FromAPILive
	default:
		return false, Admitted{}
	}

	t.record(cand.Category, cand.Resolution, cand.Codec)

	return true, Admitted{Candidate: cand, Source: drv.Identifier(), From: from}
}

func tryLiveCheck(ctx context.Context, drv debrid.Driver, hash string, limiter *rate.Limiter) bool {
	checker, ok := drv.(debrid.LiveChecker)
	if !ok {
		return false
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
	}
	return checker.LiveCheckHash(ctx, hash)
}

func candidateRelevantToEpisode(title string, season, episode int) bool {
	if filter.HasEpisodeMarker(title, season, episode) {
		return true
	}
	if filter.HasAnyEpisodeMarker(title) {
		return false
	}
	return filter.IsSeasonPack(title, season) || filter.IsRelevantMultiSeasonPack(title, season)
}

func containsAACOpus(title string) bool {
	lower := strings.ToLower(title)
	return strings.Contains(lower, "aac") || strings.Contains(lower, "opus")
}

// inspectSeasonPacks implements §4.7 step 8.
func (e *Engine) inspectSeasonPacks(ctx context.Context, candidates []release.ReleaseCandidate, inspector debrid.SeasonPackInspector, plan QuotaPlan, t *trackers, opts Options, source string) []Admitted {
	packs := collectPacks(candidates, opts.Season)
	if len(packs) == 0 {
		return nil
	}

	hints := map[string]*debrid.PackHint{}
	round := 0
	offset := 0
	for round < opts.MaxPackRounds && offset < len(packs) && len(hints) < opts.MaxPacksToInspect {
		if ctx.Err() != nil {
			break
		}
		end := offset + opts.MaxPacksToInspect
		if end > len(packs) {
			end = len(packs)
		}
		batchHashes := make([]string, 0, end-offset)
		for _, p := range packs[offset:end] {
			batchHashes = append(batchHashes, p.InfoHash)
		}

		result := inspector.BatchInspectSeasonPacks(ctx, batchHashes, opts.Season, opts.Episode)
		for h, hint := range result {
			if hint != nil {
				hints[h] = hint
			}
		}

		offset = end
		round++
	}

	var admitted []Admitted
	for _, p := range packs {
		hint, ok := hints[p.InfoHash]
		if !ok {
			continue
		}

		if opts.DiversifyCodecsEnabled && p.Codec != release.CodecUnknown {
			if max, ok := plan.PerCodecMax[p.Codec]; ok && max > 0 {
				if byCodec := t.byCodecPerResolution[p.Resolution]; byCodec != nil && byCodec[p.Codec] >= max {
					continue
				}
			}
		}
		if remaining(plan, p.Category, p.Resolution, t.admitted(p.Category, p.Resolution)) <= 0 {
			continue
		}

		t.record(p.Category, p.Resolution, p.Codec)
		admitted = append(admitted, Admitted{
			Candidate:       p,
			Source:          source,
			From:            FromBatchPackInspection,
			EpisodeFileHint: hint,
		})
	}

	return admitted
}

// collectPacks gathers season-pack candidates for season, deduplicated by
// infoHash, sorted by (quality score desc, resolution score desc, size desc).
func collectPacks(candidates []release.ReleaseCandidate, season int) []release.ReleaseCandidate {
	seen := map[string]bool{}
	var packs []release.ReleaseCandidate
	for _, c := range candidates {
		if !filter.IsSeasonPack(c.Title, season) {
			continue
		}
		if seen[c.InfoHash] {
			continue
		}
		seen[c.InfoHash] = true
		packs = append(packs, c)
	}

	sort.SliceStable(packs, func(i, j int) bool {
		if packs[i].Category.QualityScore() != packs[j].Category.QualityScore() {
			return packs[i].Category.QualityScore() > packs[j].Category.QualityScore()
		}
		if packs[i].Resolution.ResolutionScore() != packs[j].Resolution.ResolutionScore() {
			return packs[i].Resolution.ResolutionScore() > packs[j].Resolution.ResolutionScore()
		}
		return packs[i].Size > packs[j].Size
	})

	return packs
}
