package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sooti/streamx-aggregator/internal/admission"
	"github.com/sooti/streamx-aggregator/internal/cache"
	"github.com/sooti/streamx-aggregator/internal/cinemeta"
	"github.com/sooti/streamx-aggregator/internal/config"
	"github.com/sooti/streamx-aggregator/internal/coordinator"
	"github.com/sooti/streamx-aggregator/internal/debrid/realdebrid"
	"github.com/sooti/streamx-aggregator/internal/facade"
	"github.com/sooti/streamx-aggregator/internal/httpclient"
	"github.com/sooti/streamx-aggregator/internal/httpentry"
	"github.com/sooti/streamx-aggregator/internal/logging"
	"github.com/sooti/streamx-aggregator/internal/metrics"
	"github.com/sooti/streamx-aggregator/internal/release"
	"github.com/sooti/streamx-aggregator/internal/scraper"
	"github.com/sooti/streamx-aggregator/internal/scraper/prowlarr"
	"github.com/sooti/streamx-aggregator/internal/telemetry"
	"github.com/sooti/streamx-aggregator/internal/titleparser"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, "streamx-aggregator", cfg.OTLPEndpoint)
	if err != nil {
		logger.Warn("main: tracing init failed, continuing without it", "error", err)
	}
	defer shutdownTracing(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Error("main: cannot create data dir, cache disabled", "error", err)
	}
	store, err := cache.Open(cfg.DataDir, cfg.CacheTTL, cfg.SweepInterval, logger)
	if err != nil {
		logger.Error("main: persistent cache unavailable, falling back to no-cache mode", "error", err)
	}

	httpRegistry := httpclient.NewRegistry(logger)
	clientOpts := httpclient.Options{
		RequestTimeout:       cfg.HTTPClientRequestTimeout,
		MaxAge:               cfg.HTTPClientMaxAge,
		ErrorStreakThreshold: cfg.HTTPClientErrorStreakThreshold,
	}

	var drivers []scraper.Driver
	if cfg.ProwlarrURL != "" && cfg.ProwlarrAPIKey != "" {
		prowlarrClient := httpRegistry.Get("prowlarr", clientOpts)
		drivers = append(drivers, prowlarr.New(cfg.ProwlarrURL, cfg.ProwlarrAPIKey, logger, prowlarrClient))
	}

	realdebridClient := httpRegistry.Get("realdebrid", clientOpts)
	debridDrv := realdebrid.New(cfg.RealDebridAPIKey, logger, realdebridClient)

	coord := coordinator.New(coordinator.Config{
		Timeout:  cfg.CoordinatorTimeout,
		ShareTTL: cfg.ScraperShareTTL,
		ShareCap: cfg.ScraperShareCap,
	})

	parser := titleparser.NewAdapter()
	meta := cinemeta.New(cfg.CinemetaBaseURL)

	defaultPlan := buildQuotaPlan(cfg)
	defaultOptions := buildOptions(cfg)

	f := facade.New(meta, parser, coord, drivers, debridDrv, store, m, logger, defaultPlan, defaultOptions)

	app := httpentry.New(f)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			logger.Error("main: http server stopped", "error", err)
		}
	}()

	logger.Info("main: streamx-aggregator started", "listenAddr", cfg.ListenAddr)

	<-ctx.Done()
	logger.Info("main: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = app.ShutdownWithContext(shutdownCtx)
	coord.Shutdown()
	httpRegistry.Shutdown()
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Warn("main: cache close failed", "error", err)
		}
	}
}

// buildQuotaPlan translates the MAX_RESULTS_* config keys (§6) into an
// admission.QuotaPlan, applying the blanket default before per-category
// overrides.
func buildQuotaPlan(cfg *config.Config) admission.QuotaPlan {
	plan := admission.DefaultQuotaPlan()
	if cfg.MaxResultsPerQuality > 0 {
		for cat := range plan.PerCategory {
			plan.PerCategory[cat] = cfg.MaxResultsPerQuality
		}
	}
	overrideQuota(plan.PerCategory, release.CategoryRemux, cfg.MaxResultsRemux)
	overrideQuota(plan.PerCategory, release.CategoryBluRay, cfg.MaxResultsBluRay)
	overrideQuota(plan.PerCategory, release.CategoryWebDL, cfg.MaxResultsWebDL)
	overrideQuota(plan.PerCategory, release.CategoryRip, cfg.MaxResultsWebRip)
	overrideQuota(plan.PerCategory, release.CategoryAudioFocused, cfg.MaxResultsAudio)
	overrideQuota(plan.PerCategory, release.CategoryOther, cfg.MaxResultsOther)

	if cfg.DiversifyCodecsEnabled {
		plan.PerCodecMax[release.CodecH265] = cfg.MaxH265PerQuality
		plan.PerCodecMax[release.CodecH264] = cfg.MaxH264PerQuality
	}
	plan.GlobalResolutionCap = cfg.TargetCodecCount

	return plan
}

func overrideQuota(perCategory map[release.Category]int, cat release.Category, value int) {
	if value > 0 {
		perCategory[cat] = value
	}
}

// buildOptions translates the PRIORITY_*/DIVERSIFY_*/pack-inspection config
// keys (§6) into admission.Options applied whenever a request doesn't supply
// its own.
func buildOptions(cfg *config.Config) admission.Options {
	return admission.Options{
		SkipWebripEnabled:      cfg.SkipWebripEnabled,
		SkipAACOpusEnabled:     cfg.SkipAACOpusEnabled,
		PenaltyAACOpusEnabled:  cfg.PenaltyAACOpusEnabled,
		DiversifyCodecsEnabled: cfg.DiversifyCodecsEnabled,
		SharedPackEpisodeQuota: cfg.SharedPackEpisodeQuota,
		MaxPacksToInspect:      cfg.MaxPacksToInspect,
		MaxPackRounds:          cfg.MaxPackRounds,
		LiveCheckRatePerSec:    cfg.DebridLiveCheckRatePerSec,
		LiveCheckBurst:         cfg.DebridLiveCheckBurst,
	}
}
