// Package worker executes one search run end to end: the fetch pipeline,
// artifact persistence, the run archive and the completion notification.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-fetch/internal/clock/system"
	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/output"
	"github.com/JakeFAU/search-fetch/internal/publisher"
)

// Searcher runs the fetch pipeline.
type Searcher interface {
	Run(ctx context.Context, query string, pageCount, maxChars uint) (crawler.ResultCollection, error)
}

// ArtifactWriter persists a collection.
type ArtifactWriter interface {
	Write(ctx context.Context, prefix string, collection crawler.ResultCollection) (output.Artifacts, error)
}

// Config controls Worker behavior.
type Config struct {
	// BlobPrefix is prepended to every artifact key.
	BlobPrefix string
	// PerRunPrefix nests artifacts under the run ID.
	PerRunPrefix bool
	Topic        string
}

// Request is one run invocation.
type Request struct {
	Query    string
	Pages    uint
	MaxChars uint
}

// Result is what a run produced.
type Result struct {
	Collection crawler.ResultCollection
	Artifacts  output.Artifacts
	Record     crawler.RunRecord
}

// Worker wires the pipeline to its optional side effects. Writer, RunStore
// and Publisher may each be nil.
type Worker struct {
	searcher  Searcher
	writer    ArtifactWriter
	runStore  crawler.RunStore
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// Deps groups the Worker collaborators.
type Deps struct {
	Searcher  Searcher
	Writer    ArtifactWriter
	RunStore  crawler.RunStore
	Publisher crawler.Publisher
	Clock     crawler.Clock
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Worker, error) {
	if deps.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		searcher:  deps.Searcher,
		writer:    deps.Writer,
		runStore:  deps.RunStore,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}, nil
}

// Execute runs the pipeline and persists its output. Pipeline and artifact
// write errors fail the run; archive and publish errors are logged only.
func (w *Worker) Execute(ctx context.Context, req Request) (Result, error) {
	started := w.clock.Now()
	collection, err := w.searcher.Run(ctx, req.Query, req.Pages, req.MaxChars)
	if err != nil {
		return Result{}, err
	}
	result := Result{Collection: collection}
	logger := w.logger.With(zap.String("run_id", collection.RunID))

	if w.writer != nil {
		artifacts, err := w.writer.Write(ctx, w.prefix(collection.RunID), collection)
		if err != nil {
			return result, fmt.Errorf("write output: %w", err)
		}
		result.Artifacts = artifacts
	}

	result.Record = crawler.RunRecord{
		RunID:      collection.RunID,
		Query:      collection.Query,
		PageCount:  req.Pages,
		MaxChars:   req.MaxChars,
		StartedAt:  started,
		FinishedAt: w.clock.Now(),
		Pages:      result.Artifacts.Pages,
		SummaryURI: result.Artifacts.SummaryURI,
		Attempted:  len(collection.Outcomes),
		Succeeded:  len(collection.Pages),
	}

	if w.runStore != nil {
		if err := w.runStore.SaveRun(ctx, result.Record); err != nil {
			logger.Warn("archive run failed", zap.Error(err))
		} else {
			logger.Debug("run archived")
		}
	}
	w.publishResult(ctx, logger, result.Record)
	return result, nil
}

func (w *Worker) prefix(runID string) string {
	if !w.cfg.PerRunPrefix {
		return w.cfg.BlobPrefix
	}
	if w.cfg.BlobPrefix == "" {
		return runID
	}
	return w.cfg.BlobPrefix + "/" + runID
}

func (w *Worker) publishResult(ctx context.Context, logger *zap.Logger, record crawler.RunRecord) {
	if w.cfg.Topic == "" || w.publisher == nil {
		return
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, publisher.NewRunCompleted(record))
	if err != nil {
		logger.Warn("publish run completed failed", zap.String("topic", w.cfg.Topic), zap.Error(err))
		return
	}
	logger.Info("run published",
		zap.String("topic", w.cfg.Topic),
		zap.String("message_id", id),
		zap.Int("pages", record.Succeeded),
	)
}
