package search

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

// ResultsPerPage is the number of records one provider page holds.
const ResultsPerPage = 10

// Provider names accepted by New.
const (
	NameSerpAPI = "serpapi"
	NameSearXNG = "searxng"
	NameStatic  = "static"
)

// ErrUnknownProvider is returned by New for an unsupported provider name.
var ErrUnknownProvider = errors.New("unknown search provider")

// Options configures provider construction.
type Options struct {
	APIKey     string
	SerpAPIURL string
	Engine     string
	SearXNGURL string
	Static     []crawler.SearchRecord
	Client     *http.Client
	Logger     *zap.Logger
}

// New builds the named provider.
func New(name string, opts Options) (crawler.SearchProvider, error) {
	switch name {
	case NameSerpAPI:
		return NewSerpAPI(SerpAPIConfig{
			APIKey:  opts.APIKey,
			BaseURL: opts.SerpAPIURL,
			Engine:  opts.Engine,
			Client:  opts.Client,
			Logger:  opts.Logger,
		})
	case NameSearXNG:
		return NewSearXNG(SearXNGConfig{
			BaseURL: opts.SearXNGURL,
			Client:  opts.Client,
			Logger:  opts.Logger,
		})
	case NameStatic:
		return NewStatic(opts.Static), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
}

func defaultClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 15 * time.Second}
}
