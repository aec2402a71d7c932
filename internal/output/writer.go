// Package output persists a result collection as per-page artifacts plus the
// tagged summary.
package output

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/pipeline"
)

// SummaryFile is the name of the rendered summary artifact.
const SummaryFile = "search_summary.txt"

// Content types for stored artifacts.
const (
	ContentTypeMarkdown = "text/markdown; charset=utf-8"
	ContentTypeHTML     = "text/html; charset=utf-8"
	ContentTypeText     = "text/plain; charset=utf-8"
)

// ContentName returns the readable-content artifact name for rank i.
func ContentName(i int) string {
	return fmt.Sprintf("page_%d.md", i)
}

// HTMLName returns the raw-markup artifact name for rank i.
func HTMLName(i int) string {
	return fmt.Sprintf("page_%d.html", i)
}

// Artifacts lists what Write stored.
type Artifacts struct {
	Pages      []crawler.StoredPage
	SummaryURI string
}

// Writer stores artifacts through a BlobStore.
type Writer struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	logger *zap.Logger
}

// NewWriter validates its collaborators.
func NewWriter(store crawler.BlobStore, hasher crawler.Hasher, logger *zap.Logger) (*Writer, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if hasher == nil {
		return nil, errors.New("hasher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, hasher: hasher, logger: logger.Named("output")}, nil
}

// Write stores page_{i}.md and page_{i}.html for every page, i being the
// page's position in the collection, followed by the summary. prefix is
// prepended to every key when set. The first failing write aborts.
func (w *Writer) Write(ctx context.Context, prefix string, collection crawler.ResultCollection) (Artifacts, error) {
	artifacts := Artifacts{Pages: make([]crawler.StoredPage, 0, len(collection.Pages))}
	for i, page := range collection.Pages {
		hash, err := w.hasher.Hash([]byte(page.Content))
		if err != nil {
			return artifacts, fmt.Errorf("hash page %d: %w", i, err)
		}
		contentURI, err := w.put(ctx, key(prefix, ContentName(i)), ContentTypeMarkdown, page.Content)
		if err != nil {
			return artifacts, err
		}
		htmlURI, err := w.put(ctx, key(prefix, HTMLName(i)), ContentTypeHTML, page.HTML)
		if err != nil {
			return artifacts, err
		}
		w.logger.Debug("saved page",
			zap.Int("rank", i),
			zap.String("url", page.URL),
			zap.String("content_uri", contentURI),
			zap.String("html_uri", htmlURI),
		)
		artifacts.Pages = append(artifacts.Pages, crawler.StoredPage{
			Rank:        i,
			Page:        page,
			ContentHash: hash,
			ContentURI:  contentURI,
			HTMLURI:     htmlURI,
		})
	}
	summaryURI, err := w.put(ctx, key(prefix, SummaryFile), ContentTypeText, pipeline.RenderSummary(collection))
	if err != nil {
		return artifacts, err
	}
	artifacts.SummaryURI = summaryURI
	return artifacts, nil
}

func (w *Writer) put(ctx context.Context, name, contentType, body string) (string, error) {
	uri, err := w.store.PutObject(ctx, name, contentType, strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return uri, nil
}

func key(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
