// Package release defines the ReleaseCandidate value type and the
// classification rules the cache-admission engine groups candidates by,
// generalized from k8v-streamx/internal/addon/addon.go's avoidQualities /
// resolutionName / getQualityScore tables (there a single composite ranking
// score; here split into the independent category/resolution/codec axes
// SPEC_FULL.md §4.7's tiered algorithm walks).
package release

import (
	"strconv"
	"strings"
)

// Category is the coarse source-type bucket a candidate is grouped by.
type Category string

const (
	CategoryRemux        Category = "Remux"
	CategoryBluRay       Category = "BluRay"
	CategoryWebDL        Category = "WEB/WEB-DL"
	CategoryRip          Category = "BRRip/WEBRip"
	CategoryAudioFocused Category = "Audio-Focused"
	CategoryOther        Category = "Other"
)

// Resolution is the vertical-pixel bucket a candidate is grouped by.
type Resolution string

const (
	Resolution2160p Resolution = "2160p"
	Resolution1080p Resolution = "1080p"
	Resolution720p  Resolution = "720p"
	Resolution480p  Resolution = "480p"
	ResolutionUnknown Resolution = "unknown"
)

// Codec is the video codec bucket used for diversification.
type Codec string

const (
	CodecH265   Codec = "h265"
	CodecH264   Codec = "h264"
	CodecUnknown Codec = "unknown"
)

// QualityScore ranks Category for the season-pack sort in §4.7 step 8a.
func (c Category) QualityScore() int {
	switch c {
	case CategoryRemux:
		return 5
	case CategoryBluRay:
		return 4
	case CategoryWebDL:
		return 3
	case CategoryRip:
		return 2
	case CategoryAudioFocused:
		return 1
	default:
		return 0
	}
}

// ResolutionScore ranks Resolution for the same sort.
func (r Resolution) ResolutionScore() int {
	switch r {
	case Resolution2160p:
		return 4
	case Resolution1080p:
		return 3
	case Resolution720p:
		return 2
	case Resolution480p:
		return 1
	default:
		return 0
	}
}

// ReleaseCandidate is a discovered potential stream, per SPEC_FULL.md §3.
type ReleaseCandidate struct {
	InfoHash  string
	Title     string
	Size      uint64
	Tracker   string
	Seeders   int
	Languages []string

	Category   Category
	Resolution Resolution
	Codec      Codec

	// FromSeason/ToSeason/Episode carry the titleparser's parsed markers so
	// the filter package doesn't need to re-parse the title.
	FromSeason int
	ToSeason   int
	Episode    int
}

var (
	remuxToken = "remux"
	ripTokens  = []string{"brrip", "webrip", "bdrip", "hdrip", "dvdrip"}
	blurayTokens = []string{"bluray", "blu-ray", "bdrip"}
	webTokens    = []string{"web-dl", "webdl", "web.dl", " web "}
	aacOpusTokens = []string{"aac", "opus"}
)

// ClassifyOptions carries the policy flags that affect classification.
type ClassifyOptions struct {
	PenaltyAACOpusEnabled bool
}

// Classify derives Category/Resolution/Codec from the raw title, per
// SPEC_FULL.md §4.7 step 1. It never mutates the input; callers assign the
// result onto the candidate.
func Classify(title string, opts ClassifyOptions) (Category, Resolution, Codec) {
	lower := strings.ToLower(title)

	category := classifyCategory(lower, opts)
	resolution := classifyResolution(lower)
	codec := classifyCodec(lower)

	return category, resolution, codec
}

func classifyCategory(lower string, opts ClassifyOptions) Category {
	switch {
	case strings.Contains(lower, remuxToken):
		return CategoryRemux
	case containsAny(lower, ripTokens):
		return CategoryRip
	case containsAny(lower, blurayTokens):
		return CategoryBluRay
	case containsAny(lower, webTokens):
		return CategoryWebDL
	case opts.PenaltyAACOpusEnabled && containsAny(lower, aacOpusTokens):
		return CategoryAudioFocused
	default:
		return CategoryOther
	}
}

func classifyResolution(lower string) Resolution {
	switch {
	case strings.Contains(lower, "2160p") || strings.Contains(lower, "4k") || strings.Contains(lower, "uhd"):
		return Resolution2160p
	case strings.Contains(lower, "1080p"):
		return Resolution1080p
	case strings.Contains(lower, "720p"):
		return Resolution720p
	case strings.Contains(lower, "480p"):
		return Resolution480p
	default:
		return ResolutionUnknown
	}
}

func classifyCodec(lower string) Codec {
	switch {
	case strings.Contains(lower, "x265") || strings.Contains(lower, "h265") || strings.Contains(lower, "hevc") || strings.Contains(lower, "h.265"):
		return CodecH265
	case strings.Contains(lower, "x264") || strings.Contains(lower, "h264") || strings.Contains(lower, "avc") || strings.Contains(lower, "h.264"):
		return CodecH264
	default:
		return CodecUnknown
	}
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// Normalize lowercases the infoHash and validates both required attributes
// are present, matching §4.7 step 1's drop rule.
func Normalize(c *ReleaseCandidate) bool {
	c.InfoHash = strings.ToLower(strings.TrimSpace(c.InfoHash))
	c.Title = strings.TrimSpace(c.Title)
	return c.InfoHash != "" && c.Title != ""
}

// SizeLabel renders Size as a human string, mirroring addon.go's bytesConvert
// idiom (used only in logging, not in admission logic).
func SizeLabel(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return strconv.FormatUint(bytes, 10) + " B"
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := "KMGTPE"
	return strconv.FormatFloat(float64(bytes)/float64(div), 'f', 1, 64) + " " + string(units[exp]) + "iB"
}
