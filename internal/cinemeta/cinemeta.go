// Package cinemeta is the metadata collaborator named in SPEC_FULL.md §6: a
// read-only lookup of canonical title/year metadata for one IMDB id.
package cinemeta

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/sooti/streamx-aggregator/internal/model"
)

const defaultBaseURL = "https://v3-cinemeta.strem.io"

type CineMeta struct {
	client *resty.Client
}

type movieInfoResponse struct {
	Meta metaInfo `json:"meta"`
}

type metaInfo struct {
	Name   string `json:"name"`
	Year   string `json:"year"`
	IMDBID string `json:"imdb_id"`
}

// New builds a CineMeta client. baseURL overrides the default when non-empty,
// matching CINEMETA_BASE_URL in SPEC_FULL.md §6.
func New(baseURL string) *CineMeta {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &CineMeta{
		client: resty.New().SetBaseURL(baseURL),
	}
}

// GetMovieById resolves metadata for a movie IMDB id. It honors ctx
// cancellation as required by the metadata collaborator contract (§6).
func (c *CineMeta) GetMovieById(ctx context.Context, id string) (*model.MetaInfo, error) {
	resp, err := c.client.R().SetContext(ctx).SetResult(&movieInfoResponse{}).Get("/meta/movie/" + id + ".json")
	if err != nil {
		return nil, fmt.Errorf("cinemeta: movie lookup %s: %w", id, err)
	}

	result := resp.Result().(*movieInfoResponse)
	year, _ := strconv.Atoi(result.Meta.Year)
	imdbID, _ := strconv.Atoi(strings.TrimPrefix(result.Meta.IMDBID, "tt"))

	return &model.MetaInfo{
		Name:     result.Meta.Name,
		IMDBID:   uint(imdbID),
		FromYear: year,
		ToYear:   year,
	}, nil
}

// GetSeriesById resolves metadata for a series IMDB id, splitting an
// en-dash-separated "from–to" year range when the upstream reports one.
func (c *CineMeta) GetSeriesById(ctx context.Context, id string) (*model.MetaInfo, error) {
	resp, err := c.client.R().SetContext(ctx).SetResult(&movieInfoResponse{}).Get("/meta/series/" + id + ".json")
	if err != nil {
		return nil, fmt.Errorf("cinemeta: series lookup %s: %w", id, err)
	}

	result := resp.Result().(*movieInfoResponse)
	tokens := strings.Split(result.Meta.Year, "–")
	fromYear, toYear := 0, 0
	switch {
	case len(tokens) > 1:
		fromYear, _ = strconv.Atoi(tokens[0])
		toYear, _ = strconv.Atoi(tokens[1])
		if toYear == 0 {
			toYear = fromYear
		}
	case len(tokens) == 1:
		fromYear, _ = strconv.Atoi(tokens[0])
		toYear = fromYear
	}
	imdbID, _ := strconv.Atoi(strings.TrimPrefix(result.Meta.IMDBID, "tt"))

	return &model.MetaInfo{
		Name:     result.Meta.Name,
		IMDBID:   uint(imdbID),
		FromYear: fromYear,
		ToYear:   toYear,
	}, nil
}
