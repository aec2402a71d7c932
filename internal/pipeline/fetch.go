package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/progress"
)

// FetchOutcome is the terminal state of one fetch task. Index is the record's
// rank in the submitted slice.
type FetchOutcome struct {
	Index        int
	Status       crawler.OutcomeStatus
	Record       crawler.SearchRecord
	ReadableText string
	RawMarkup    string
	Err          error
	Duration     time.Duration
	// Event is the FETCH_DONE progress event for this task, emitted after the join.
	Event progress.Event
}

// FetchAll runs one fetch task per record and returns after every task is
// terminal. outcomes[i] always belongs to records[i], whatever the completion
// order. With a positive concurrency bound at most that many tasks are in
// flight at once.
func (p *Pipeline) FetchAll(ctx context.Context, records []crawler.SearchRecord) []FetchOutcome {
	outcomes := make([]FetchOutcome, len(records))
	var g errgroup.Group
	if p.concurrency > 0 {
		g.SetLimit(p.concurrency)
	}
	for i, record := range records {
		g.Go(func() error {
			outcomes[i] = p.fetchOne(ctx, i, record)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (p *Pipeline) fetchOne(ctx context.Context, index int, record crawler.SearchRecord) (outcome FetchOutcome) {
	start := time.Now()
	outcome = FetchOutcome{Index: index, Record: record}
	var pageCount int
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.fetch",
		trace.WithAttributes(
			attribute.Int("searchfetch.index", index),
			attribute.String("url.full", record.URL),
		),
	)

	defer func() {
		if r := recover(); r != nil {
			outcome.Status = crawler.OutcomeFailed
			outcome.Err = fmt.Errorf("fetch task panicked: %v", r)
			outcome.ReadableText, outcome.RawMarkup = "", ""
		}
		outcome.Duration = time.Since(start)
		outcome.Event = p.fetchEvent(outcome, pageCount)
		span.SetAttributes(attribute.String("searchfetch.status", string(outcome.Status)))
		if outcome.Err != nil {
			span.RecordError(outcome.Err)
			span.SetStatus(codes.Error, "fetch failed")
		}
		span.End()
		p.logger.Debug("fetch task done",
			zap.Int("index", index),
			zap.String("url", record.URL),
			zap.String("status", string(outcome.Status)),
			zap.Duration("dur", outcome.Duration),
			zap.Error(outcome.Err),
		)
	}()

	if p.fetchCfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.fetchCfg.Timeout)
		defer cancel()
	}
	pages, err := p.fetcher.Fetch(ctx, record.URL, p.fetchCfg)
	if err != nil {
		outcome.Status = crawler.OutcomeFailed
		outcome.Err = err
		return outcome
	}
	pageCount = len(pages)
	if pageCount == 0 {
		outcome.Status = crawler.OutcomeEmpty
		return outcome
	}

	first := pages[0]
	text, err := p.transformer.Transform(first, p.transformCfg)
	if err != nil {
		outcome.Status = crawler.OutcomeFailed
		outcome.Err = fmt.Errorf("transform: %w", err)
		return outcome
	}
	outcome.Status = crawler.OutcomeSuccess
	outcome.ReadableText = text
	outcome.RawMarkup = first.HTML()
	return outcome
}

func (p *Pipeline) fetchEvent(outcome FetchOutcome, pageCount int) progress.Event {
	evt := progress.Event{
		TS:     p.clock.Now().UTC(),
		Stage:  progress.StageFetchDone,
		Index:  outcome.Index,
		Site:   siteOf(outcome.Record.URL),
		URL:    outcome.Record.URL,
		Status: string(outcome.Status),
		Pages:  pageCount,
		Bytes:  int64(len(outcome.RawMarkup)),
		Dur:    outcome.Duration,
	}
	if outcome.Err != nil {
		evt.Note = outcome.Err.Error()
	}
	return evt
}

func siteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
