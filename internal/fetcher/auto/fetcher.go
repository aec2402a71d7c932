// Package auto fetches with a plain HTTP engine first and re-renders pages
// that look client-side rendered in a headless browser.
package auto

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

// Detector decides whether captures need a headless render.
type Detector interface {
	ShouldPromote(pages []crawler.PageCapture) bool
}

// Fetcher chains a primary and a headless fetcher.
type Fetcher struct {
	primary  crawler.Fetcher
	headless crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New wires the promoting fetcher.
func New(primary, headless crawler.Fetcher, detector Detector, logger *zap.Logger) (*Fetcher, error) {
	if primary == nil || headless == nil {
		return nil, errors.New("primary and headless fetchers are required")
	}
	if detector == nil {
		return nil, errors.New("detector is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{primary: primary, headless: headless, detector: detector, logger: logger.Named("auto_fetcher")}, nil
}

// Fetch runs the primary fetcher and promotes when the detector asks for it.
// Primary errors are returned as is. A failed or empty headless render falls
// back to the primary captures.
func (f *Fetcher) Fetch(ctx context.Context, url string, cfg crawler.FetchConfig) ([]crawler.PageCapture, error) {
	pages, err := f.primary.Fetch(ctx, url, cfg)
	if err != nil {
		return nil, err
	}
	if !f.detector.ShouldPromote(pages) {
		return pages, nil
	}
	rendered, err := f.headless.Fetch(ctx, url, cfg)
	if err != nil {
		f.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return pages, nil
	}
	if len(rendered) == 0 {
		return pages, nil
	}
	f.logger.Debug("headless promotion applied", zap.String("url", url))
	return rendered, nil
}
