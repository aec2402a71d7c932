// Package search implements the search providers that turn a query into a
// ranked list of crawler.SearchRecord values. Providers collect results ten per
// provider page and never retry.
package search
