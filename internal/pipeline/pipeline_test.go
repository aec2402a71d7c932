package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/id/uuid"
	"github.com/JakeFAU/search-fetch/internal/progress"
)

const testRunID = "0190a4b2-7c1d-7e3f-8a5b-1c2d3e4f5a6b"

type fakeProvider struct {
	mu      sync.Mutex
	records []crawler.SearchRecord
	err     error
	pages   []uint32
}

func (f *fakeProvider) Search(_ context.Context, _ string, pages uint32) ([]crawler.SearchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages = append(f.pages, pages)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

type fetchFunc func(ctx context.Context, url string) ([]crawler.PageCapture, error)

type fakeFetcher struct {
	calls atomic.Int32
	fn    fetchFunc
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string, cfg crawler.FetchConfig) ([]crawler.PageCapture, error) {
	f.calls.Add(1)
	if cfg.MaxDepth != 1 || cfg.MaxPages != 1 {
		return nil, fmt.Errorf("unexpected fetch config %+v", cfg)
	}
	return f.fn(ctx, url)
}

// upperTransformer returns the body upper-cased so tests can tell readable
// text apart from raw markup.
type upperTransformer struct{}

func (upperTransformer) Transform(page crawler.PageCapture, _ crawler.TransformConfig) (string, error) {
	if strings.Contains(page.HTML(), "bad-transform") {
		return "", errors.New("cannot transform")
	}
	return strings.ToUpper(page.HTML()), nil
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recordingEmitter) Emit(_ context.Context, events ...progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingEmitter) stages() []progress.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Stage, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Stage)
	}
	return out
}

func records(n int) []crawler.SearchRecord {
	out := make([]crawler.SearchRecord, n)
	for i := range out {
		out[i] = crawler.SearchRecord{
			Title:   fmt.Sprintf("title %d", i),
			URL:     fmt.Sprintf("https://site%d.example/page", i),
			Snippet: fmt.Sprintf("snippet %d", i),
		}
	}
	return out
}

func okPage(url, body string) []crawler.PageCapture {
	return []crawler.PageCapture{{URL: url, StatusCode: 200, Body: []byte(body)}}
}

func newTestPipeline(t *testing.T, provider crawler.SearchProvider, fetcher crawler.Fetcher, opts ...func(*Options)) *Pipeline {
	t.Helper()
	o := Options{
		Provider:    provider,
		Fetcher:     fetcher,
		Transformer: upperTransformer{},
		IDGen:       uuid.NewSequence(testRunID),
	}
	for _, fn := range opts {
		fn(&o)
	}
	p, err := New(o)
	require.NoError(t, err)
	return p
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Options{})
	require.ErrorContains(t, err, "provider")
	_, err = New(Options{Provider: &fakeProvider{}})
	require.ErrorContains(t, err, "fetcher")
	_, err = New(Options{Provider: &fakeProvider{}, Fetcher: &fakeFetcher{}})
	require.ErrorContains(t, err, "transformer")
	_, err = New(Options{Provider: &fakeProvider{}, Fetcher: &fakeFetcher{}, Transformer: upperTransformer{}, Concurrency: -1})
	require.ErrorContains(t, err, "concurrency")

	p, err := New(Options{Provider: &fakeProvider{}, Fetcher: &fakeFetcher{}, Transformer: upperTransformer{}})
	require.NoError(t, err)
	require.Equal(t, crawler.DefaultFetchConfig(), p.fetchCfg)
	require.Equal(t, crawler.DefaultTransformConfig(), p.transformCfg)
}

func TestProviderPages(t *testing.T) {
	t.Parallel()

	cases := map[uint]uint32{0: 0, 1: 1, 9: 1, 10: 1, 11: 2, 15: 2, 20: 2, 21: 3, 100: 10}
	for in, want := range cases {
		require.Equal(t, want, ProviderPages(in), "pageCount=%d", in)
	}
}

func TestRunRustConcurrencyScenario(t *testing.T) {
	t.Parallel()

	recs := records(3)
	long := strings.Repeat("word ", 40)
	provider := &fakeProvider{records: recs}
	fetcher := &fakeFetcher{fn: func(_ context.Context, url string) ([]crawler.PageCapture, error) {
		if url == recs[1].URL {
			return nil, errors.New("connection refused")
		}
		return okPage(url, "<p>"+long+url+"</p>"), nil
	}}
	p := newTestPipeline(t, provider, fetcher)

	got, err := p.Run(context.Background(), "rust concurrency", 3, 50)
	require.NoError(t, err)
	require.Equal(t, []uint32{1}, provider.pages)
	require.Equal(t, "rust concurrency", got.Query)
	require.Equal(t, testRunID, got.RunID)

	require.Len(t, got.Pages, 2)
	require.Equal(t, recs[0].URL, got.Pages[0].URL)
	require.Equal(t, recs[2].URL, got.Pages[1].URL)
	for i, page := range got.Pages {
		require.LessOrEqual(t, countNonSpace(page.Content), uint(50))
		require.True(t, strings.HasPrefix(page.Content, "<P>WORD"), "page %d content %q", i, page.Content)
		require.Contains(t, page.HTML, "<p>word")
	}

	require.Len(t, got.Outcomes, 3)
	require.Equal(t, crawler.OutcomeSuccess, got.Outcomes[0].Status)
	require.Equal(t, crawler.OutcomeFailed, got.Outcomes[1].Status)
	require.Equal(t, "connection refused", got.Outcomes[1].Error)
	require.Equal(t, crawler.OutcomeSuccess, got.Outcomes[2].Status)
}

func TestFetchAllPreservesOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		// first is the record index whose task must complete before the others start.
		first int
	}{
		{name: "last record finishes first", first: 2},
		{name: "failed record finishes first", first: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			recs := records(3)
			firstDone := make(chan struct{})
			fetcher := &fakeFetcher{fn: func(ctx context.Context, url string) ([]crawler.PageCapture, error) {
				if url != recs[tt.first].URL {
					select {
					case <-firstDone:
					case <-ctx.Done():
						return nil, ctx.Err()
					}
				} else {
					defer close(firstDone)
				}
				if url == recs[1].URL {
					return nil, errors.New("boom")
				}
				return okPage(url, url), nil
			}}
			p := newTestPipeline(t, &fakeProvider{records: recs}, fetcher)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			outcomes := p.FetchAll(ctx, recs)
			require.Len(t, outcomes, 3)
			for i, o := range outcomes {
				require.Equal(t, i, o.Index)
				require.Equal(t, recs[i], o.Record)
			}

			got := Aggregate(outcomes, 1000)
			require.Len(t, got.Pages, 2)
			require.Equal(t, recs[0].URL, got.Pages[0].URL)
			require.Equal(t, recs[2].URL, got.Pages[1].URL)
		})
	}
}

func TestRunFetchesOnlyReturnedRecords(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{records: records(7)}
	fetcher := &fakeFetcher{fn: func(_ context.Context, url string) ([]crawler.PageCapture, error) {
		return okPage(url, "body"), nil
	}}
	p := newTestPipeline(t, provider, fetcher)

	got, err := p.Run(context.Background(), "q", 10, 100)
	require.NoError(t, err)
	require.Equal(t, int32(7), fetcher.calls.Load())
	require.Len(t, got.Pages, 7)
	require.Len(t, got.Outcomes, 7)
}

func TestRunSlicesToPageCount(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{records: records(20)}
	fetcher := &fakeFetcher{fn: func(_ context.Context, url string) ([]crawler.PageCapture, error) {
		return okPage(url, "body"), nil
	}}
	p := newTestPipeline(t, provider, fetcher)

	got, err := p.Run(context.Background(), "q", 15, 100)
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, provider.pages)
	require.Equal(t, int32(15), fetcher.calls.Load())
	require.Len(t, got.Pages, 15)
	require.Equal(t, "https://site14.example/page", got.Pages[14].URL)
}

func TestRunZeroPageCount(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{records: records(3)}
	fetcher := &fakeFetcher{fn: func(_ context.Context, url string) ([]crawler.PageCapture, error) {
		return okPage(url, "body"), nil
	}}
	p := newTestPipeline(t, provider, fetcher)

	got, err := p.Run(context.Background(), "q", 0, 100)
	require.NoError(t, err)
	require.Equal(t, []uint32{0}, provider.pages)
	require.Zero(t, fetcher.calls.Load())
	require.Empty(t, got.Pages)
	require.Empty(t, got.Outcomes)
}

func TestRunProviderError(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("quota exceeded")
	emitter := &recordingEmitter{}
	fetcher := &fakeFetcher{fn: func(context.Context, string) ([]crawler.PageCapture, error) {
		return nil, nil
	}}
	p := newTestPipeline(t, &fakeProvider{err: sentinel}, fetcher, func(o *Options) { o.Emitter = emitter })

	_, err := p.Run(context.Background(), "q", 5, 100)
	require.ErrorIs(t, err, sentinel)
	require.ErrorIs(t, err, ErrSearchProvider)
	require.EqualError(t, err, "search provider: quota exceeded")
	require.Zero(t, fetcher.calls.Load())
	require.Equal(t, []progress.Stage{progress.StageRunError}, emitter.stages())
}

func TestRunEmptyQuery(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	p := newTestPipeline(t, provider, &fakeFetcher{})
	_, err := p.Run(context.Background(), "   ", 5, 100)
	require.ErrorIs(t, err, ErrEmptyQuery)
	require.Empty(t, provider.pages)
}

func TestFetchOutcomes(t *testing.T) {
	t.Parallel()

	recs := records(4)
	fetcher := &fakeFetcher{fn: func(_ context.Context, url string) ([]crawler.PageCapture, error) {
		switch url {
		case recs[0].URL:
			return append(okPage(url, "first"), okPage(url+"/2", "second")...), nil
		case recs[1].URL:
			return nil, nil
		case recs[2].URL:
			return okPage(url, "bad-transform"), nil
		default:
			panic("fetcher exploded")
		}
	}}
	p := newTestPipeline(t, &fakeProvider{}, fetcher)

	outcomes := p.FetchAll(context.Background(), recs)
	require.Equal(t, crawler.OutcomeSuccess, outcomes[0].Status)
	require.Equal(t, "FIRST", outcomes[0].ReadableText)
	require.Equal(t, "first", outcomes[0].RawMarkup)
	require.Equal(t, 2, outcomes[0].Event.Pages)

	require.Equal(t, crawler.OutcomeEmpty, outcomes[1].Status)
	require.NoError(t, outcomes[1].Err)

	require.Equal(t, crawler.OutcomeFailed, outcomes[2].Status)
	require.ErrorContains(t, outcomes[2].Err, "transform")

	require.Equal(t, crawler.OutcomeFailed, outcomes[3].Status)
	require.ErrorContains(t, outcomes[3].Err, "panicked")
	require.Equal(t, progress.StatusFailed, outcomes[3].Event.Status)
	require.Equal(t, "site3.example", outcomes[3].Event.Site)
}

func TestFetchAllConcurrencyBound(t *testing.T) {
	t.Parallel()

	var inFlight, peak atomic.Int32
	fetcher := &fakeFetcher{fn: func(_ context.Context, url string) ([]crawler.PageCapture, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return okPage(url, "ok"), nil
	}}
	p := newTestPipeline(t, &fakeProvider{}, fetcher, func(o *Options) { o.Concurrency = 2 })

	outcomes := p.FetchAll(context.Background(), records(8))
	require.Len(t, outcomes, 8)
	require.LessOrEqual(t, peak.Load(), int32(2))
	require.Equal(t, int32(8), fetcher.calls.Load())
}

func TestFetchTimeout(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{fn: func(ctx context.Context, _ string) ([]crawler.PageCapture, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	p := newTestPipeline(t, &fakeProvider{}, fetcher, func(o *Options) {
		cfg := crawler.DefaultFetchConfig()
		cfg.Timeout = 20 * time.Millisecond
		o.FetchConfig = cfg
	})

	outcomes := p.FetchAll(context.Background(), records(1))
	require.Equal(t, crawler.OutcomeFailed, outcomes[0].Status)
	require.ErrorIs(t, outcomes[0].Err, context.DeadlineExceeded)
}

func TestRunEmitsEventsInOrder(t *testing.T) {
	t.Parallel()

	recs := records(4)
	emitter := &recordingEmitter{}
	fetcher := &fakeFetcher{fn: func(_ context.Context, url string) ([]crawler.PageCapture, error) {
		if url == recs[0].URL {
			time.Sleep(30 * time.Millisecond)
		}
		if url == recs[2].URL {
			return nil, errors.New("nope")
		}
		return okPage(url, "body"), nil
	}}
	p := newTestPipeline(t, &fakeProvider{records: recs}, fetcher, func(o *Options) { o.Emitter = emitter })

	_, err := p.Run(context.Background(), "q", 4, 100)
	require.NoError(t, err)

	require.Equal(t, []progress.Stage{
		progress.StageRunStart,
		progress.StageFetchDone, progress.StageFetchDone, progress.StageFetchDone, progress.StageFetchDone,
		progress.StageRunDone,
	}, emitter.stages())

	start := emitter.events[0]
	require.Equal(t, 4, start.Pages)
	require.Equal(t, "Found 4 links to fetch (requested: 4)", start.Message())
	for i, evt := range emitter.events[1:5] {
		require.Equal(t, i, evt.Index)
		require.Equal(t, recs[i].URL, evt.URL)
		require.Equal(t, progress.ParseRunID(testRunID), evt.RunID)
		require.NoError(t, evt.Validate())
	}
	require.Equal(t, progress.StatusFailed, emitter.events[3].Status)
	require.Equal(t, 3, emitter.events[5].Pages)
}

func TestRunSummary(t *testing.T) {
	t.Parallel()

	recs := records(2)
	fetcher := &fakeFetcher{fn: func(_ context.Context, url string) ([]crawler.PageCapture, error) {
		return okPage(url, "content"), nil
	}}
	p := newTestPipeline(t, &fakeProvider{records: recs}, fetcher)

	got, err := p.RunSummary(context.Background(), "q", 2, 100)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got, "This is the search results page.\n\n<page>\n"))
	require.Contains(t, got, "  <title>title 1</title>\n  <url>https://site1.example/page</url>\n  <snippet>snippet 1</snippet>\n  <content>CONTENT</content>\n</page>\n\n")
	require.Equal(t, 2, strings.Count(got, "<page>"))
}
