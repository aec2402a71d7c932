package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/clock/system"
	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/id/uuid"
	"github.com/JakeFAU/search-fetch/internal/progress"
	"github.com/JakeFAU/search-fetch/internal/search"
)

const tracerName = "github.com/JakeFAU/search-fetch/internal/pipeline"

var (
	// ErrEmptyQuery is returned when Run receives a blank query.
	ErrEmptyQuery = errors.New("query is required")
	// ErrSearchProvider wraps every search provider failure.
	ErrSearchProvider = errors.New("search provider")
)

// Options wires the pipeline collaborators.
type Options struct {
	Provider        crawler.SearchProvider
	Fetcher         crawler.Fetcher
	Transformer     crawler.Transformer
	FetchConfig     crawler.FetchConfig
	TransformConfig crawler.TransformConfig
	// Concurrency caps in-flight fetch tasks. Zero runs every task at once.
	Concurrency int
	Emitter     progress.Emitter
	IDGen       crawler.IDGenerator
	Clock       crawler.Clock
	Logger      *zap.Logger
}

// Pipeline turns a query into a rank-ordered collection of fetched pages.
type Pipeline struct {
	provider     crawler.SearchProvider
	fetcher      crawler.Fetcher
	transformer  crawler.Transformer
	fetchCfg     crawler.FetchConfig
	transformCfg crawler.TransformConfig
	concurrency  int
	emitter      progress.Emitter
	idGen        crawler.IDGenerator
	clock        crawler.Clock
	logger       *zap.Logger
}

// New validates opts and fills defaults for the optional collaborators.
func New(opts Options) (*Pipeline, error) {
	if opts.Provider == nil {
		return nil, errors.New("search provider is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Transformer == nil {
		return nil, errors.New("transformer is required")
	}
	if opts.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be >= 0, got %d", opts.Concurrency)
	}
	p := &Pipeline{
		provider:     opts.Provider,
		fetcher:      opts.Fetcher,
		transformer:  opts.Transformer,
		fetchCfg:     opts.FetchConfig,
		transformCfg: opts.TransformConfig,
		concurrency:  opts.Concurrency,
		emitter:      opts.Emitter,
		idGen:        opts.IDGen,
		clock:        opts.Clock,
		logger:       opts.Logger,
	}
	if p.fetchCfg == (crawler.FetchConfig{}) {
		p.fetchCfg = crawler.DefaultFetchConfig()
	}
	if p.transformCfg == (crawler.TransformConfig{}) {
		p.transformCfg = crawler.DefaultTransformConfig()
	}
	if p.emitter == nil {
		p.emitter = progress.Discard{}
	}
	if p.idGen == nil {
		p.idGen = uuid.New()
	}
	if p.clock == nil {
		p.clock = system.New()
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("pipeline")
	return p, nil
}

// ProviderPages returns how many provider result pages cover pageCount
// records, rounding up.
func ProviderPages(pageCount uint) uint32 {
	pages := (uint64(pageCount) + search.ResultsPerPage - 1) / search.ResultsPerPage
	if pages > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(pages)
}

// Run searches for query, fetches up to pageCount results concurrently and
// returns the pages in provider rank order with content truncated to
// maxChars non-whitespace characters. Per-page failures are reported in
// Outcomes and never fail the run.
func (p *Pipeline) Run(ctx context.Context, query string, pageCount, maxChars uint) (crawler.ResultCollection, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return crawler.ResultCollection{}, ErrEmptyQuery
	}
	runID, err := p.idGen.NewID()
	if err != nil {
		return crawler.ResultCollection{}, fmt.Errorf("generate run id: %w", err)
	}
	rid := progress.ParseRunID(runID)
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(
		attribute.String("searchfetch.run_id", runID),
		attribute.Int64("searchfetch.page_count", int64(pageCount)),
	)
	logger := p.logger.With(zap.String("run_id", runID), zap.String("query", query))

	records, err := p.provider.Search(ctx, query, ProviderPages(pageCount))
	if err != nil {
		p.emitter.Emit(ctx, progress.Event{
			RunID: rid,
			TS:    p.clock.Now().UTC(),
			Stage: progress.StageRunError,
			Index: -1,
			Dur:   time.Since(start),
			Note:  err.Error(),
		})
		logger.Warn("search provider failed", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "search provider failed")
		return crawler.ResultCollection{}, fmt.Errorf("%w: %w", ErrSearchProvider, err)
	}
	if uint(len(records)) > pageCount {
		records = records[:pageCount]
	}
	p.emitter.Emit(ctx, progress.Event{
		RunID: rid,
		TS:    p.clock.Now().UTC(),
		Stage: progress.StageRunStart,
		Index: -1,
		Pages: len(records),
		Note:  strconv.FormatUint(uint64(pageCount), 10),
	})

	outcomes := p.FetchAll(ctx, records)
	events := make([]progress.Event, 0, len(outcomes))
	for _, o := range outcomes {
		evt := o.Event
		evt.RunID = rid
		events = append(events, evt)
	}
	p.emitter.Emit(ctx, events...)

	collection := Aggregate(outcomes, maxChars)
	span.SetAttributes(
		attribute.Int("searchfetch.attempted", len(outcomes)),
		attribute.Int("searchfetch.pages", len(collection.Pages)),
	)
	collection.RunID = runID
	collection.Query = query

	p.emitter.Emit(ctx, progress.Event{
		RunID: rid,
		TS:    p.clock.Now().UTC(),
		Stage: progress.StageRunDone,
		Index: -1,
		Pages: len(collection.Pages),
		Dur:   time.Since(start),
	})
	logger.Info("run complete",
		zap.Int("attempted", len(outcomes)),
		zap.Int("pages", len(collection.Pages)),
		zap.Duration("dur", time.Since(start)),
	)
	return collection, nil
}

// RunSummary runs the pipeline and renders the result as a tagged summary.
func (p *Pipeline) RunSummary(ctx context.Context, query string, pageCount, maxChars uint) (string, error) {
	collection, err := p.Run(ctx, query, pageCount, maxChars)
	if err != nil {
		return "", err
	}
	return RenderSummary(collection), nil
}
