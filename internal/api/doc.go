// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - POST /v1/search runs a search and returns the result collection as JSON.
//   - POST /v1/search/summary returns the tagged text summary instead.
//   - GET /healthz / readyz for Kubernetes health checks.
//   - GET /metrics for Prometheus scraping.
package api
