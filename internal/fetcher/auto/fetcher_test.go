package auto

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/search-fetch/internal/crawler"
	"github.com/JakeFAU/search-fetch/internal/headless/detector"
)

type stubFetcher struct {
	pages []crawler.PageCapture
	err   error
	calls int
}

func (s *stubFetcher) Fetch(context.Context, string, crawler.FetchConfig) ([]crawler.PageCapture, error) {
	s.calls++
	return s.pages, s.err
}

func page(body string) []crawler.PageCapture {
	return []crawler.PageCapture{{URL: "https://example.com", StatusCode: 200, Body: []byte(body)}}
}

func TestFetchPromotion(t *testing.T) {
	t.Parallel()

	article := "<html><body><article>plenty of readable text here and more and more words to get past the heuristic</article></body></html>"
	tests := []struct {
		name          string
		primary       *stubFetcher
		headless      *stubFetcher
		wantBody      string
		wantErr       bool
		wantHeadCalls int
	}{
		{
			name:     "plain page stays",
			primary:  &stubFetcher{pages: page(article)},
			headless: &stubFetcher{pages: page("rendered")},
			wantBody: article,
		},
		{
			name:          "spa promoted",
			primary:       &stubFetcher{pages: page(`<div id="__next"></div>`)},
			headless:      &stubFetcher{pages: page("<p>rendered</p>")},
			wantBody:      "<p>rendered</p>",
			wantHeadCalls: 1,
		},
		{
			name:          "headless failure falls back",
			primary:       &stubFetcher{pages: page(`<div id="root"></div>`)},
			headless:      &stubFetcher{err: errors.New("chrome missing")},
			wantBody:      `<div id="root"></div>`,
			wantHeadCalls: 1,
		},
		{
			name:     "primary error returned",
			primary:  &stubFetcher{err: errors.New("dns")},
			headless: &stubFetcher{pages: page("x")},
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := New(tt.primary, tt.headless, detector.NewHeuristic(64), nil)
			require.NoError(t, err)

			got, err := f.Fetch(context.Background(), "https://example.com", crawler.DefaultFetchConfig())
			if tt.wantErr {
				require.Error(t, err)
				require.Zero(t, tt.headless.calls)
				return
			}
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, tt.wantBody, got[0].HTML())
			require.Equal(t, tt.wantHeadCalls, tt.headless.calls)
		})
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, &stubFetcher{}, detector.NewHeuristic(0), nil)
	require.Error(t, err)
	_, err = New(&stubFetcher{}, &stubFetcher{}, nil, nil)
	require.Error(t, err)
}
