package crawler

import (
	"net/http"
	"time"
)

// DefaultUserAgent identifies the fetch tasks to remote hosts.
const DefaultUserAgent = "SearchFetchBot/1.0"

// SearchRecord is one ranked hit returned by a search provider. The order of
// records in a provider response defines the final result rank.
type SearchRecord struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	// Position is the 1-based rank reported by the provider, when known.
	Position int `json:"position,omitempty"`
}

// PageCapture is a single page returned by a Fetcher.
type PageCapture struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// HTML returns the raw markup of the capture.
func (p PageCapture) HTML() string {
	return string(p.Body)
}

// ResolvedURL prefers the post-redirect URL.
func (p PageCapture) ResolvedURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// FetchConfig constrains a single fetch. The pipeline always requests depth 1
// and a single page; the remaining knobs come from configuration.
type FetchConfig struct {
	MaxDepth      int
	MaxPages      int
	RespectRobots bool
	Subdomains    bool
	Delay         time.Duration
	UserAgent     string
	// Timeout bounds the whole fetch when > 0. Zero leaves the fetch unbounded.
	Timeout time.Duration
}

// DefaultFetchConfig returns the single-page constraints used by every fetch task.
func DefaultFetchConfig() FetchConfig {
	return FetchConfig{
		MaxDepth:      1,
		MaxPages:      1,
		RespectRobots: true,
		Subdomains:    false,
		Delay:         0,
		UserAgent:     DefaultUserAgent,
	}
}

// Format selects the readable output produced by a Transformer.
type Format string

// Supported transform formats.
const (
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
	FormatHTML     Format = "html"
)

// TransformConfig controls how raw markup becomes readable text.
type TransformConfig struct {
	Format          Format
	CleanHTML       bool
	MainContentOnly bool
}

// DefaultTransformConfig returns markdown output with cleaning and main
// content extraction enabled.
func DefaultTransformConfig() TransformConfig {
	return TransformConfig{
		Format:          FormatMarkdown,
		CleanHTML:       true,
		MainContentOnly: true,
	}
}

// OutcomeStatus tags the terminal state of one fetch task.
type OutcomeStatus string

// Fetch task outcomes.
const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeEmpty   OutcomeStatus = "empty"
	OutcomeFailed  OutcomeStatus = "failed"
)

// ResultPage is one fetched, cleaned, and truncated search result.
type ResultPage struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}

// OutcomeSummary reports what happened to one attempted record, including
// the ones that did not produce a ResultPage.
type OutcomeSummary struct {
	Index      int           `json:"index"`
	URL        string        `json:"url"`
	Status     OutcomeStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	DurationMs int64         `json:"duration_ms"`
}

// ResultCollection is the rank-ordered output of one pipeline run. Pages
// collapses failures; Outcomes lists every attempted record.
type ResultCollection struct {
	RunID    string           `json:"run_id,omitempty"`
	Query    string           `json:"query,omitempty"`
	Pages    []ResultPage     `json:"pages"`
	Outcomes []OutcomeSummary `json:"outcomes"`
}

// RunRecord is persisted once per completed run.
type RunRecord struct {
	RunID      string
	Query      string
	PageCount  uint
	MaxChars   uint
	StartedAt  time.Time
	FinishedAt time.Time
	Pages      []StoredPage
	SummaryURI string
	Attempted  int
	Succeeded  int
}

// StoredPage links a result page to its persisted artifacts.
type StoredPage struct {
	Rank        int
	Page        ResultPage
	ContentHash string
	ContentURI  string
	HTMLURI     string
}
