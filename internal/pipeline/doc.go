// Package pipeline implements the search-fetch run: it asks a search provider
// for ranked records, fetches every record concurrently, transforms each first
// page into readable text, and reassembles the results in rank order with each
// page's content cut to a non-whitespace character budget.
package pipeline
