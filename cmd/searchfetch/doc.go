// Command searchfetch searches the web for a query, fetches the top results
// concurrently and writes their readable content to disk.
//
// Architecture overview:
//   - Search: a provider (SerpAPI, SearXNG or a static list) returns ranked
//     records; the number of provider pages requested covers the page count.
//   - Fetch pipeline: one task per record runs under an errgroup, each task
//     fetching the URL through Colly, headless Chrome, or Colly with headless
//     promotion, then transforming the markup into markdown or text. Pages come
//     back in provider rank order no matter which task finishes first.
//   - Output: every page is written as page_{i}.md and page_{i}.html next to a
//     tagged search_summary.txt, through a local, in-memory or GCS blob store.
//   - Optional side effects: the run is archived to Postgres and a completion
//     notice is published to Pub/Sub when those are configured.
//   - Observability: zap logs, progress lines, Prometheus metrics on /metrics
//     in serve mode and OpenTelemetry spans when telemetry is enabled.
//
// Usage:
//
//	searchfetch "rust concurrency" --pages 5 --max-chars 5000
//	searchfetch serve --config searchfetch.yaml
//
// Configuration comes from a searchfetch.{yaml,json,toml} file and
// SEARCHFETCH_* environment variables; flags override both.
package main
