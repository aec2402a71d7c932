package pipeline

import (
	"sort"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

// Aggregate builds the rank-ordered collection from fetch outcomes. Successful
// outcomes become pages with content truncated to maxChars; empty and failed
// outcomes leave no page but are still listed in Outcomes.
func Aggregate(outcomes []FetchOutcome, maxChars uint) crawler.ResultCollection {
	ordered := append([]FetchOutcome(nil), outcomes...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	collection := crawler.ResultCollection{
		Pages:    make([]crawler.ResultPage, 0, len(ordered)),
		Outcomes: make([]crawler.OutcomeSummary, 0, len(ordered)),
	}
	for _, o := range ordered {
		summary := crawler.OutcomeSummary{
			Index:      o.Index,
			URL:        o.Record.URL,
			Status:     o.Status,
			DurationMs: o.Duration.Milliseconds(),
		}
		if o.Err != nil {
			summary.Error = o.Err.Error()
		}
		collection.Outcomes = append(collection.Outcomes, summary)

		if o.Status != crawler.OutcomeSuccess {
			continue
		}
		collection.Pages = append(collection.Pages, crawler.ResultPage{
			Title:   o.Record.Title,
			URL:     o.Record.URL,
			Snippet: o.Record.Snippet,
			Content: Truncate(o.ReadableText, maxChars),
			HTML:    o.RawMarkup,
		})
	}
	return collection
}
