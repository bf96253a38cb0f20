// Package httpentry is the thin Fiber v2 entrypoint (§1.1): it exposes only
// the in-scope stream-resolution path, deliberately leaving manifest,
// catalog, and configure-UI routes unimplemented per §1's Non-goals.
// Middleware wiring (CORS, recover, masked-path access log) is copied from
// k8v-streamx/cmd/server/main.go's app construction.
package httpentry

import (
	"context"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/sooti/streamx-aggregator/internal/admission"
	"github.com/sooti/streamx-aggregator/internal/cache"
	"github.com/sooti/streamx-aggregator/internal/facade"
)

var maskedPathPattern = regexp.MustCompile(`^/([\w%]+)/(?:stream)`)

// StreamQuery carries the query parameters the stream route accepts.
type StreamQuery struct {
	Service       string `query:"service"`
	Languages     string `query:"languages"`
	ConfigSummary string `query:"config"`
}

// New builds a Fiber app exposing GET /stream/:type/:id.json, backed by f.
func New(f *facade.Facade) *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(logger.New(logger.Config{
		CustomTags: map[string]logger.LogFunc{
			"maskedPath": func(output logger.Buffer, c *fiber.Ctx, data *logger.Data, extraParam string) (int, error) {
				urlPath := c.Path()
				loc := maskedPathPattern.FindStringSubmatchIndex(urlPath)
				if len(loc) > 3 {
					return output.WriteString(urlPath[:loc[2]] + "***" + urlPath[loc[3]:])
				}
				return output.WriteString(urlPath)
			},
		},
		Format:       "${time} | ${status} | ${latency} | ${ip} | ${method} | ${maskedPath} | ${error}\n",
		TimeFormat:   "15:04:05",
		TimeZone:     "Local",
		TimeInterval: 500 * time.Millisecond,
		Output:       os.Stdout,
	}))

	app.Get("/stream/:type/:id.json", handleGetStreams(f))
	app.Get("/resolve/:contentId", handleResolveByContentID(f))

	return app
}

func handleGetStreams(f *facade.Facade) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var q StreamQuery
		if err := c.QueryParser(&q); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid query"})
		}
		if q.Service == "" {
			q.Service = "realdebrid"
		}

		streamType := c.Params("type")
		id, season, episode := parseStreamID(c.Params("id"))

		req := facade.Request{
			Service:       q.Service,
			Type:          streamType,
			ID:            id,
			Season:        season,
			Episode:       episode,
			Languages:     splitLanguages(q.Languages),
			ConfigSummary: q.ConfigSummary,
		}

		ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
		defer cancel()

		admitted, err := f.Resolve(ctx, req)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "aggregation failed"})
		}

		return c.JSON(fiber.Map{"streams": toStreamResponses(q.Service, admitted)})
	}
}

// handleResolveByContentID serves GET /resolve/:contentId, the read side of
// C2's secondary content-addressed index (§4.8): a caller that only kept the
// contentId handed back in an earlier /stream response can recover the full
// cached row without knowing the (service, hash) it was stored under.
func handleResolveByContentID(f *facade.Facade) fiber.Handler {
	return func(c *fiber.Ctx) error {
		contentID := c.Params("contentId")

		ctx, cancel := context.WithTimeout(c.Context(), 5*time.Second)
		defer cancel()

		record, ok := f.ResolveByContentID(ctx, contentID)
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
		}
		return c.JSON(recordResponse{
			InfoHash:   record.Hash,
			Title:      record.FileName,
			Size:       record.Size,
			Category:   string(record.Category),
			Resolution: string(record.Resolution),
			ReleaseKey: record.ReleaseKey,
		})
	}
}

type recordResponse struct {
	InfoHash   string `json:"infoHash"`
	Title      string `json:"title"`
	Size       uint64 `json:"size"`
	Category   string `json:"category"`
	Resolution string `json:"resolution"`
	ReleaseKey string `json:"releaseKey"`
}

// parseStreamID splits a Stremio-style id of the form "tt1234567:1:2" into
// (imdbID, season, episode); season/episode are 0 for movie ids.
func parseStreamID(raw string) (id string, season, episode int) {
	parts := splitColon(raw)
	if len(parts) == 0 {
		return raw, 0, 0
	}
	id = parts[0]
	if len(parts) >= 3 {
		season, _ = strconv.Atoi(parts[1])
		episode, _ = strconv.Atoi(parts[2])
	}
	return id, season, episode
}

func splitColon(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

func splitLanguages(raw string) []string {
	if raw == "" {
		return nil
	}
	var langs []string
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				langs = append(langs, raw[start:i])
			}
			start = i + 1
		}
	}
	return langs
}

type streamResponse struct {
	InfoHash        string           `json:"infoHash"`
	ContentID       string           `json:"contentId,omitempty"`
	Title           string           `json:"title"`
	Size            uint64           `json:"size"`
	Source          string           `json:"source"`
	Tracker         string           `json:"tracker"`
	Languages       []string         `json:"languages"`
	IsCached        bool             `json:"isCached"`
	From            string           `json:"from"`
	EpisodeFileHint *episodeFileHint `json:"episodeFileHint,omitempty"`
}

type episodeFileHint struct {
	FilePath  string `json:"filePath"`
	FileBytes uint64 `json:"fileBytes"`
	TorrentID string `json:"torrentId,omitempty"`
	FileID    string `json:"fileId,omitempty"`
}

func toStreamResponses(service string, admitted []admission.Admitted) []streamResponse {
	out := make([]streamResponse, 0, len(admitted))
	for _, a := range admitted {
		resp := streamResponse{
			InfoHash:  a.Candidate.InfoHash,
			ContentID: cache.ContentID(service, a.Candidate.InfoHash),
			Title:     a.Candidate.Title,
			Size:      a.Candidate.Size,
			Source:    a.Source,
			Tracker:   a.Candidate.Tracker,
			Languages: a.Candidate.Languages,
			IsCached:  true,
			From:      string(a.From),
		}
		if a.EpisodeFileHint != nil {
			resp.EpisodeFileHint = &episodeFileHint{
				FilePath:  a.EpisodeFileHint.FilePath,
				FileBytes: a.EpisodeFileHint.FileBytes,
				TorrentID: a.EpisodeFileHint.TorrentID,
				FileID:    a.EpisodeFileHint.FileID,
			}
		}
		out = append(out, resp)
	}
	return out
}
