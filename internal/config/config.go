// Package config binds every SPEC_FULL.md §6 configuration key into one typed
// struct, following the teacher's env-var binding idiom
// (k8v-streamx/cmd/server/main.go's inline config struct) generalized to the
// full key list the aggregation core needs.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload" // loads .env into the process environment, teacher idiom
)

// Config is the process-wide configuration for the aggregation core.
type Config struct {
	// Upstream credentials
	ProwlarrURL      string `env:"PROWLARR_URL"`
	ProwlarrAPIKey   string `env:"PROWLARR_API_KEY"`
	RealDebridAPIKey string `env:"REAL_DEBRID_API_KEY"`
	CinemetaBaseURL  string `env:"CINEMETA_BASE_URL"`

	// Quotas (§6)
	MaxResultsPerQuality int `env:"MAX_RESULTS_PER_QUALITY" envDefault:"2"`
	MaxResultsRemux      int `env:"MAX_RESULTS_REMUX" envDefault:"0"`
	MaxResultsBluRay     int `env:"MAX_RESULTS_BLURAY" envDefault:"0"`
	MaxResultsWebDL      int `env:"MAX_RESULTS_WEBDL" envDefault:"0"`
	MaxResultsWebRip     int `env:"MAX_RESULTS_WEBRIP" envDefault:"0"`
	MaxResultsAudio      int `env:"MAX_RESULTS_AUDIO" envDefault:"0"`
	MaxResultsOther      int `env:"MAX_RESULTS_OTHER" envDefault:"10"`

	MaxPacksToInspect int `env:"MAX_PACKS_TO_INSPECT" envDefault:"5"`
	MaxPackRounds     int `env:"MAX_PACK_ROUNDS" envDefault:"3"`

	SkipWebripEnabled    bool `env:"PRIORITY_SKIP_WEBRIP_ENABLED" envDefault:"false"`
	SkipAACOpusEnabled   bool `env:"PRIORITY_SKIP_AAC_OPUS_ENABLED" envDefault:"false"`
	PenaltyAACOpusEnabled bool `env:"PRIORITY_PENALTY_AAC_OPUS_ENABLED" envDefault:"true"`

	DiversifyCodecsEnabled bool `env:"DIVERSIFY_CODECS_ENABLED" envDefault:"false"`
	MaxH265PerQuality      int  `env:"MAX_H265_RESULTS_PER_QUALITY" envDefault:"0"`
	MaxH264PerQuality      int  `env:"MAX_H264_RESULTS_PER_QUALITY" envDefault:"0"`

	TargetCodecCount int `env:"TARGET_CODEC_COUNT" envDefault:"0"`

	SharedPackEpisodeQuota bool `env:"SHARED_PACK_EPISODE_QUOTA" envDefault:"true"`

	// Cache (§4.8)
	DataDir       string        `env:"DATA_DIR" envDefault:"data"`
	CacheTTL      time.Duration `env:"CACHE_TTL" envDefault:"720h"`
	SweepInterval time.Duration `env:"CACHE_SWEEP_INTERVAL" envDefault:"30m"`

	// Coordinator (§4.5)
	CoordinatorTimeout time.Duration `env:"COORDINATOR_TIMEOUT" envDefault:"30s"`
	ScraperShareTTL    time.Duration `env:"SCRAPER_SHARE_TTL" envDefault:"60s"`
	ScraperShareCap    int           `env:"SCRAPER_SHARE_CAP" envDefault:"500"`

	// HTTP client (§4.1, §1.3)
	HTTPClientErrorStreakThreshold int           `env:"HTTP_CLIENT_ERROR_STREAK_THRESHOLD" envDefault:"5"`
	HTTPClientRequestTimeout       time.Duration `env:"HTTP_CLIENT_REQUEST_TIMEOUT" envDefault:"60s"`
	HTTPClientMaxAge               time.Duration `env:"HTTP_CLIENT_MAX_AGE" envDefault:"5m"`

	// Debrid live-check rate cap (§9 open question 2)
	DebridLiveCheckRatePerSec float64 `env:"DEBRID_LIVE_CHECK_RATE_PER_SEC" envDefault:"5"`
	DebridLiveCheckBurst      int     `env:"DEBRID_LIVE_CHECK_BURST" envDefault:"10"`

	// Ambient
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":7000"`
}

// Load parses the environment into a Config, applying envDefault tags for any
// unset variable.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
