package search

import (
	"context"

	"github.com/JakeFAU/search-fetch/internal/crawler"
)

// Static serves a fixed record list, ten records per provider page.
type Static struct {
	records []crawler.SearchRecord
}

// NewStatic copies records into a Static provider.
func NewStatic(records []crawler.SearchRecord) *Static {
	return &Static{records: append([]crawler.SearchRecord(nil), records...)}
}

// Search returns at most pages*10 records.
func (s *Static) Search(ctx context.Context, _ string, pages uint32) ([]crawler.SearchRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := int(pages) * ResultsPerPage
	if limit > len(s.records) {
		limit = len(s.records)
	}
	return append([]crawler.SearchRecord(nil), s.records[:limit]...), nil
}
