// Package crawler defines the records, fetch/transform configuration, and
// collaborator interfaces shared by the search-fetch pipeline, its fetchers,
// providers, and output layers.
package crawler
