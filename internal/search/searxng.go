package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/metrics"
)

// SearXNGConfig configures the SearXNG provider.
type SearXNGConfig struct {
	BaseURL string
	Client  *http.Client
	Logger  *zap.Logger
}

// SearXNG queries a self-hosted SearXNG instance through its JSON API.
type SearXNG struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

type searxngResponse struct {
	Results []struct {
		Title   string `json:"title"`
		URL     string `json:"url"`
		Content string `json:"content"`
	} `json:"results"`
}

// NewSearXNG validates the config and returns a SearXNG provider.
func NewSearXNG(cfg SearXNGConfig) (*SearXNG, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("searxng base url is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &SearXNG{
		client:  defaultClient(cfg.Client),
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		logger:  cfg.Logger.Named("searxng"),
	}, nil
}

// Search walks SearXNG result pages 1..pages. SearXNG page sizes vary, so each
// page is capped at ten records to keep provider pages comparable.
func (s *SearXNG) Search(ctx context.Context, query string, pages uint32) ([]crawler.SearchRecord, error) {
	var all []crawler.SearchRecord
	for page := 1; page <= int(pages); page++ {
		records, err := s.searchPage(ctx, query, page)
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

func (s *SearXNG) searchPage(ctx context.Context, query string, page int) (records []crawler.SearchRecord, err error) {
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.ObserveProviderRequest(NameSearXNG, result, time.Since(start))
	}()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	if page > 1 {
		params.Set("pageno", strconv.Itoa(page))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create searxng request: %w", err)
	}
	// SearXNG bot detection rejects requests without a forwarding header.
	req.Header.Set("X-Real-IP", "127.0.0.1")
	req.Header.Set("X-Forwarded-For", "127.0.0.1")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("searxng request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("searxng returned status %d", resp.StatusCode)
	}

	var payload searxngResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode searxng response: %w", err)
	}

	base := (page - 1) * ResultsPerPage
	records = make([]crawler.SearchRecord, 0, len(payload.Results))
	for i, item := range payload.Results {
		if i == ResultsPerPage {
			break
		}
		records = append(records, crawler.SearchRecord{
			Title:    item.Title,
			URL:      item.URL,
			Snippet:  item.Content,
			Position: base + i + 1,
		})
	}
	return records, nil
}
