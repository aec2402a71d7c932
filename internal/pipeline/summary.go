package pipeline

import (
	"strings"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

// SummaryHeader opens every rendered summary.
const SummaryHeader = "This is the search results page.\n\n"

// RenderSummary renders the collection as the tagged text block consumed by
// downstream prompts. Field values are written verbatim.
func RenderSummary(collection crawler.ResultCollection) string {
	var b strings.Builder
	b.WriteString(SummaryHeader)
	for _, page := range collection.Pages {
		b.WriteString("<page>\n")
		b.WriteString("  <title>" + page.Title + "</title>\n")
		b.WriteString("  <url>" + page.URL + "</url>\n")
		b.WriteString("  <snippet>" + page.Snippet + "</snippet>\n")
		b.WriteString("  <content>" + page.Content + "</content>\n")
		b.WriteString("</page>\n\n")
	}
	return b.String()
}
