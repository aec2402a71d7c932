// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

const (
	defaultRequestTimeout = 15 * time.Second
	maxRedirects          = 10
)

// Config controls collector behavior shared by every fetch.
type Config struct {
	// RequestTimeout bounds each HTTP request made by the collector.
	RequestTimeout time.Duration
	// Transport overrides the pooled HTTP transport (primarily for tests).
	Transport http.RoundTripper
	Logger    *zap.Logger
}

// Fetcher implements crawler.Fetcher using a fresh Colly collector per call.
// The HTTP transport is shared so connections are pooled across fetch tasks.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	logger    *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
	OnHTML(string, colly.HTMLCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		cfg:       cfg,
		transport: transport,
		logger:    logger.Named("colly"),
	}
}

// Fetch visits rawURL under cfg and returns the captured HTML pages in visit
// order. A robots.txt disallow or a non-HTML response yields no pages and no
// error; transport failures and HTTP error statuses on the root URL are errors.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, cfg crawler.FetchConfig) ([]crawler.PageCapture, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Hostname() == "" {
		return nil, fmt.Errorf("invalid fetch url %q", rawURL)
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	run := newFetchRun(rawURL, cfg)
	collector, robotsState, err := f.buildCollector(ctx, cfg)
	if err != nil {
		return nil, err
	}
	f.configureCollectorHooks(collector, run)

	if err := f.runCollector(ctx, collector, rawURL, run); err != nil {
		return nil, err
	}
	if robotsState.indeterminate() {
		f.logger.Warn("robots.txt unavailable, fetched as allowed",
			zap.String("url", rawURL),
			zap.String("reason", robotsState.reason()),
		)
	}
	return run.snapshot(), nil
}

// buildCollector leaves the collector unscoped: colly applies domain filters
// to redirects too, and the root URL must follow redirects to any host. Link
// visits are scoped by fetchRun.linkAllowed instead.
func (f *Fetcher) buildCollector(ctx context.Context, cfg crawler.FetchConfig) (*colly.Collector, *robotsCheckState, error) {
	collector := colly.NewCollector(
		colly.Async(false),
		colly.MaxDepth(cfg.MaxDepth),
		colly.StdlibContext(ctx),
	)
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = crawler.DefaultUserAgent
	}
	collector.UserAgent = userAgent
	collector.IgnoreRobotsTxt = !cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.RequestTimeout)
	collector.SetRedirectHandler(limitRedirects)

	if cfg.Delay > 0 {
		if err := collector.Limit(&colly.LimitRule{DomainGlob: "*", Delay: cfg.Delay}); err != nil {
			return nil, nil, fmt.Errorf("colly limit rule: %w", err)
		}
	}

	var robotsState *robotsCheckState
	if cfg.RespectRobots {
		robotsState = newRobotsCheckState()
		collector.WithTransport(&robotsAwareTransport{
			base:  f.transport,
			state: robotsState,
		})
	} else {
		collector.WithTransport(f.transport)
	}
	return collector, robotsState, nil
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, run *fetchRun) {
	hooks.OnResponse(func(r *colly.Response) {
		if !isHTML(r.Headers) {
			f.logger.Debug("skipping non-html response", zap.String("url", r.Request.URL.String()))
			return
		}
		run.add(r)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.Request != nil && r.Request.Depth > 1 {
			f.logger.Debug("linked page failed", zap.String("url", r.Request.URL.String()), zap.Error(err))
			return
		}
		run.fail(err)
	})

	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		if run.cfg.MaxDepth == 1 || run.full() {
			return
		}
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" || !run.linkAllowed(link) {
			return
		}
		// Visit errors (already visited, max depth) only mean the link is skipped.
		_ = e.Request.Visit(link)
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, run *fetchRun) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("colly fetch canceled: %w", ctxErr)
		}
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			f.logger.Debug("blocked by robots.txt", zap.String("url", rawURL))
			return nil
		}
		if err != nil && run.err() == nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		if rootErr := run.err(); rootErr != nil {
			return fmt.Errorf("colly response failed: %w", rootErr)
		}
		return nil
	}
}

func limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}

// fetchRun accumulates the captures of one Fetch call.
type fetchRun struct {
	mu       sync.Mutex
	rootURL  string
	rootHost string
	cfg      crawler.FetchConfig
	start    time.Time
	pages    []crawler.PageCapture
	rootErr  error
}

func newFetchRun(rootURL string, cfg crawler.FetchConfig) *fetchRun {
	run := &fetchRun{rootURL: rootURL, cfg: cfg, start: time.Now()}
	if u, err := url.Parse(rootURL); err == nil {
		run.rootHost = strings.ToLower(u.Hostname())
	}
	return run
}

// linkAllowed reports whether a discovered link stays on the root host, or
// on one of its subdomains when cfg.Subdomains is set.
func (r *fetchRun) linkAllowed(link string) bool {
	if r.rootHost == "" {
		return false
	}
	if r.cfg.Subdomains {
		return subdomainFilter(r.rootHost).MatchString(link)
	}
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return strings.ToLower(u.Hostname()) == r.rootHost
}

func (r *fetchRun) add(resp *colly.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.MaxPages > 0 && len(r.pages) >= r.cfg.MaxPages {
		return
	}
	finalURL := resp.Request.URL.String()
	requested := finalURL
	if len(r.pages) == 0 {
		requested = r.rootURL
	}
	var headers http.Header
	if resp.Headers != nil {
		headers = resp.Headers.Clone()
	}
	r.pages = append(r.pages, crawler.PageCapture{
		URL:        requested,
		FinalURL:   finalURL,
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       append([]byte(nil), resp.Body...),
		Duration:   time.Since(r.start),
	})
}

func (r *fetchRun) full() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.MaxPages > 0 && len(r.pages) >= r.cfg.MaxPages
}

func (r *fetchRun) fail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rootErr == nil {
		r.rootErr = err
	}
}

func (r *fetchRun) err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rootErr
}

func (r *fetchRun) snapshot() []crawler.PageCapture {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]crawler.PageCapture(nil), r.pages...)
}

func isHTML(headers *http.Header) bool {
	if headers == nil {
		return true
	}
	ct := strings.ToLower(headers.Get("Content-Type"))
	return ct == "" || strings.Contains(ct, "html")
}

func subdomainFilter(host string) *regexp.Regexp {
	return regexp.MustCompile(`^https?://([^/?#]+\.)?` + regexp.QuoteMeta(host) + `(:\d+)?([/?#]|$)`)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
