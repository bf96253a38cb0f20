// Package filter implements the title/episode matching rules of
// SPEC_FULL.md §4.4: normalization, franchise disambiguation, season/episode
// marker detection, and season-pack detection. The marker regexes are
// grounded in starsinc1708-TorrX/internal/search/normalize.go's
// seasonEpisodePattern/seasonXEpisodePattern/seasonPattern/episodePattern;
// franchise disambiguation follows k8v-streamx/internal/addon/addon.go's
// checkTitleSimilarity, generalized from a single hard-coded comparison into
// a reusable sibling-alias table.
package filter

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/adrg/strutil/metrics"
)

var (
	nonAlnum = regexp.MustCompile(`[^\p{L}\p{N}]+`)

	episodeMarkerPattern = regexp.MustCompile(`(?i)s\s*0*(\d{1,2})\s*e\s*0*(\d{1,3})`)
	altEpisodeMarker     = regexp.MustCompile(`(?i)(\d{1,2})x0*(\d{1,3})`)
	wordyEpisodeMarker   = regexp.MustCompile(`(?i)season[\s.]*0*(\d{1,2})[\s.]*episode[\s.]*0*(\d{1,3})`)
	epDotMarker          = regexp.MustCompile(`(?i)\bep\.?\s*0*(\d{1,3})\b`)

	seasonOnlyPattern  = regexp.MustCompile(`(?i)(?:season[\s.]*0*(\d{1,2})|s0*(\d{1,2})(?:[^e\d]|$))`)
	multiSeasonPattern = regexp.MustCompile(`(?i)seasons?[\s.]*0*(\d{1,2})\s*-\s*0*(\d{1,2})`)
	multiSeasonSPattern = regexp.MustCompile(`(?i)s0*(\d{1,2})\s*-\s*s?0*(\d{1,2})`)
)

// levenshtein is shared across calls; strutil metrics are stateless structs.
// Cost weights match k8v-streamx/internal/addon/addon.go's checkTitleSimilarity.
var levenshtein = &metrics.Levenshtein{
	CaseSensitive: false,
	InsertCost:    2,
	DeleteCost:    3,
	ReplaceCost:   3,
}

// maxTitleDistance mirrors addon.go's franchise-sibling disambiguation
// threshold: titles within this Levenshtein distance are considered the
// "same" release title for sibling-exclusion purposes.
const maxTitleDistance = 5

// franchiseSiblings lists known franchise names whose sub-titles are easily
// confused with each other by fuzzy matching alone; each entry's members are
// mutually exclusive disambiguation targets.
var franchiseSiblings = [][]string{
	{"star trek", "star trek discovery", "star trek picard", "star trek strange new worlds", "star trek lower decks"},
	{"star wars", "star wars rebels", "star wars resistance"},
}

// Normalize lowercases and collapses every run of non-letter, non-digit
// characters to a single space. Accented letters are kept as they are;
// diacritics are not stripped.
func Normalize(s string) string {
	s = strings.ToLower(s)
	s = nonAlnum.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func significantWords(words []string) []string {
	sig := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) >= 3 {
			sig = append(sig, w)
		}
	}
	if len(sig) == 0 {
		return words
	}
	return sig
}

// MatchesSeriesTitle reports whether the normalized raw title plausibly
// refers to canonicalTitle, per §4.4.
func MatchesSeriesTitle(candidateTitle, canonicalTitle string) bool {
	normCandidate := Normalize(candidateTitle)
	normCanonical := Normalize(canonicalTitle)

	if normCandidate == normCanonical {
		return true
	}

	if matchesFranchiseSibling(normCandidate, normCanonical) {
		return false
	}

	words := significantWords(strings.Fields(normCanonical))
	for _, w := range words {
		if !strings.Contains(normCandidate, w) {
			return false
		}
	}
	return true
}

func matchesFranchiseSibling(normCandidate, normCanonical string) bool {
	for _, group := range franchiseSiblings {
		canonicalIsMember := false
		for _, sib := range group {
			if sib == normCanonical {
				canonicalIsMember = true
				break
			}
		}
		if !canonicalIsMember {
			continue
		}
		// The longest group member found verbatim in the candidate decides
		// first, so a raw release name carrying a sibling's full title is
		// caught even when its extra tokens defeat the distance check.
		longest := ""
		for _, sib := range group {
			if strings.Contains(normCandidate, sib) && len(sib) > len(longest) {
				longest = sib
			}
		}
		if longest != "" && longest != normCanonical {
			return true
		}
		bestSib, bestDist := "", -1
		for _, sib := range group {
			dist := levenshtein.Distance(normCandidate, sib)
			if bestDist == -1 || dist < bestDist {
				bestDist, bestSib = dist, sib
			}
		}
		if bestSib != normCanonical && bestDist < maxTitleDistance {
			return true
		}
	}
	return false
}

// HasEpisodeMarker reports whether name names the specific (season, episode)
// via any of the accepted marker forms.
func HasEpisodeMarker(name string, season, episode int) bool {
	if m := episodeMarkerPattern.FindStringSubmatch(name); m != nil {
		return atoi(m[1]) == season && atoi(m[2]) == episode
	}
	if m := altEpisodeMarker.FindStringSubmatch(name); m != nil {
		return atoi(m[1]) == season && atoi(m[2]) == episode
	}
	if m := wordyEpisodeMarker.FindStringSubmatch(name); m != nil {
		return atoi(m[1]) == season && atoi(m[2]) == episode
	}
	if m := epDotMarker.FindStringSubmatch(name); m != nil {
		return atoi(m[1]) == episode
	}
	return false
}

// HasAnyEpisodeMarker reports whether name contains an episode marker for
// any season/episode pair at all (used to drop "some other episode").
func HasAnyEpisodeMarker(name string) bool {
	return episodeMarkerPattern.MatchString(name) ||
		altEpisodeMarker.MatchString(name) ||
		wordyEpisodeMarker.MatchString(name) ||
		epDotMarker.MatchString(name)
}

// IsSeasonPack matches "season N" or "sNN" alone, without any episode
// marker present, per §4.4.
func IsSeasonPack(name string, season int) bool {
	if HasAnyEpisodeMarker(name) {
		return false
	}
	m := seasonOnlyPattern.FindStringSubmatch(name)
	if m == nil {
		return false
	}
	matched := m[1]
	if matched == "" {
		matched = m[2]
	}
	return atoi(matched) == season
}

// IsRelevantMultiSeasonPack matches "seasons A-B" or "sA-sB" where A ≤
// season ≤ B, per §4.4.
func IsRelevantMultiSeasonPack(name string, season int) bool {
	if HasAnyEpisodeMarker(name) {
		return false
	}
	if m := multiSeasonPattern.FindStringSubmatch(name); m != nil {
		return inRange(season, m[1], m[2])
	}
	if m := multiSeasonSPattern.FindStringSubmatch(name); m != nil {
		return inRange(season, m[1], m[2])
	}
	return false
}

func inRange(season int, lo, hi string) bool {
	a, b := atoi(lo), atoi(hi)
	if a > b {
		a, b = b, a
	}
	return season >= a && season <= b
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

// MovieMatches enforces the year part of the movie-path rule of §4.4 (±0):
// it fails only when both years are known and differ. Word overlap is
// checked separately by WordOverlapMatches, and series-like titles are
// dropped by callers via the titleparser's season/episode fields.
func MovieMatches(candidateTitle string, candidateYear, metaYear int) bool {
	if candidateYear != 0 && metaYear != 0 && candidateYear != metaYear {
		return false
	}
	return true
}

// WordOverlapMatches reports whether at least half (or all, for ≤2 words)
// of canonicalTitle's significant words appear in candidateTitle.
func WordOverlapMatches(candidateTitle, canonicalTitle string) bool {
	normCandidate := Normalize(candidateTitle)
	words := significantWords(strings.Fields(Normalize(canonicalTitle)))
	if len(words) == 0 {
		return true
	}

	matched := 0
	for _, w := range words {
		if strings.Contains(normCandidate, w) {
			matched++
		}
	}

	if len(words) <= 2 {
		return matched == len(words)
	}
	return float64(matched) >= float64(len(words))*0.5
}
