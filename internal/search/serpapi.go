package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/metrics"
)

const defaultSerpAPIURL = "https://serpapi.com/search"

// SerpAPIConfig configures the SerpAPI provider.
type SerpAPIConfig struct {
	APIKey  string
	BaseURL string
	// Engine is the SerpAPI engine parameter; defaults to "google".
	Engine string
	Client *http.Client
	Logger *zap.Logger
}

// SerpAPI queries Google results through serpapi.com.
type SerpAPI struct {
	client  *http.Client
	apiKey  string
	baseURL string
	engine  string
	logger  *zap.Logger
}

type serpAPIResponse struct {
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
	SearchMetadata struct {
		Status string `json:"status"`
	} `json:"search_metadata"`
	Error string `json:"error"`
}

// NewSerpAPI validates the config and returns a SerpAPI provider.
func NewSerpAPI(cfg SerpAPIConfig) (*SerpAPI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("serpapi api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultSerpAPIURL
	}
	if cfg.Engine == "" {
		cfg.Engine = "google"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SerpAPI{
		client:  defaultClient(cfg.Client),
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		engine:  cfg.Engine,
		logger:  cfg.Logger.Named("serpapi"),
	}, nil
}

// Search requests pages result pages of ten and concatenates their organic
// results in rank order. It stops early once a page comes back empty.
func (s *SerpAPI) Search(ctx context.Context, query string, pages uint32) ([]crawler.SearchRecord, error) {
	var all []crawler.SearchRecord
	for i := uint32(0); i < pages; i++ {
		records, err := s.searchPage(ctx, query, int(i))
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		all = append(all, records...)
	}
	s.logger.Debug("search complete", zap.String("query", query), zap.Uint32("pages", pages), zap.Int("records", len(all)))
	return all, nil
}

func (s *SerpAPI) searchPage(ctx context.Context, query string, page int) (records []crawler.SearchRecord, err error) {
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.ObserveProviderRequest(NameSerpAPI, result, time.Since(start))
	}()

	params := url.Values{}
	params.Set("engine", s.engine)
	params.Set("q", query)
	params.Set("api_key", s.apiKey)
	params.Set("start", strconv.Itoa(page*ResultsPerPage))
	params.Set("num", strconv.Itoa(ResultsPerPage))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create serpapi request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("serpapi request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("serpapi returned status %d: %s", resp.StatusCode, body)
	}

	var payload serpAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode serpapi response: %w", err)
	}
	if payload.Error != "" && len(payload.OrganicResults) == 0 {
		// SerpAPI reports exhausted result sets as an error string on page > 0.
		if page > 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("serpapi: %s", payload.Error)
	}

	records = make([]crawler.SearchRecord, 0, len(payload.OrganicResults))
	for _, item := range payload.OrganicResults {
		records = append(records, crawler.SearchRecord{
			Title:    item.Title,
			URL:      item.Link,
			Snippet:  item.Snippet,
			Position: item.Position,
		})
	}
	return records, nil
}
