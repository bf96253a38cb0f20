// Package fanout is the Scraper Fanout (C8, SPEC_FULL.md §4.6): it launches
// the enabled scraper list (optionally multiplied per language) under one
// cancellation scope, flattens, and deduplicates by infoHash.
//
// Bounded concurrency is golang.org/x/sync/semaphore, generalized from
// starsinc1708-TorrX/internal/search/aggregator.go's executePreparedSearch
// (there a fixed worker-count search loop; here a semaphore shared across an
// arbitrary scraper×language task list). The fan-out/flatten shape is built
// on k8v-streamx/internal/pipe's FanOut/Channel stage model
// (internal/addon/addon.go's fanOutToAllIndexers → searchForTorrents
// pipeline), generalized from one fixed pipeline into a reusable helper
// parameterized over the driver list and language set.
package fanout

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/sooti/streamx-aggregator/internal/pipe"
	"github.com/sooti/streamx-aggregator/internal/release"
	"github.com/sooti/streamx-aggregator/internal/scraper"
)

// DefaultMaxConcurrency bounds simultaneous scraper invocations.
const DefaultMaxConcurrency = 8

type task struct {
	driver  scraper.Driver
	query   scraper.Query
	results []release.ReleaseCandidate
}

// Run executes query against every driver in drivers, once per language in
// languages (or once, unfiltered, if languages is empty), all under ctx's
// cancellation. Results are flattened and deduplicated by infoHash, keeping
// the first occurrence, per §4.6.
func Run(ctx context.Context, drivers []scraper.Driver, languages []string, query scraper.Query, logger *slog.Logger) []release.ReleaseCandidate {
	if logger == nil {
		logger = slog.Default()
	}

	tasks := buildTasks(drivers, languages, query)
	if len(tasks) == 0 {
		return nil
	}

	sem := semaphore.NewWeighted(DefaultMaxConcurrency)

	p := pipe.New(func() ([]*task, error) { return tasks, nil })
	p.Map(func(t *task) (*task, error) {
		if ctx.Err() != nil {
			return t, nil
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return t, nil
		}
		defer sem.Release(1)

		t.results = safeSearch(ctx, t.driver, t.query, logger)
		return t, nil
	}, pipe.Concurrency[task](DefaultMaxConcurrency))

	seen := make(map[string]struct{})
	var flattened []release.ReleaseCandidate

	_ = p.Sink(func(t *task) error {
		for _, c := range t.results {
			hash := strings.ToLower(c.InfoHash)
			if hash == "" {
				continue
			}
			if _, dup := seen[hash]; dup {
				continue
			}
			seen[hash] = struct{}{}
			flattened = append(flattened, c)
		}
		return nil
	})

	return flattened
}

func buildTasks(drivers []scraper.Driver, languages []string, query scraper.Query) []*task {
	tasks := make([]*task, 0, len(drivers)*maxInt(len(languages), 1))

	if len(languages) == 0 {
		for _, d := range drivers {
			q := query
			q.Language = ""
			tasks = append(tasks, &task{driver: d, query: q})
		}
		return tasks
	}

	for _, d := range drivers {
		for _, lang := range languages {
			q := query
			q.Language = lang
			tasks = append(tasks, &task{driver: d, query: q})
		}
	}
	return tasks
}

// safeSearch recovers from a driver panic and always returns (never raises),
// per §4.6's "individual scraper exceptions are caught, logged, and yield
// empty lists."
func safeSearch(ctx context.Context, driver scraper.Driver, query scraper.Query, logger *slog.Logger) (results []release.ReleaseCandidate) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("fanout: scraper panicked", "driver", driver.Identifier(), "panic", r)
			results = nil
		}
	}()
	return driver.Search(ctx, query)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
