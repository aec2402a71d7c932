package crawler

import (
	"context"
	"io"
	"time"
)

// SearchProvider returns ranked records for a query. pages is the number of
// provider result pages (ten records each) to collect.
type SearchProvider interface {
	Search(ctx context.Context, query string, pages uint32) ([]SearchRecord, error)
}

// Fetcher retrieves a URL under the given constraints. Zero captures with a
// nil error means the fetch ran but produced nothing usable.
type Fetcher interface {
	Fetch(ctx context.Context, url string, cfg FetchConfig) ([]PageCapture, error)
}

// Transformer converts raw page markup into readable text.
type Transformer interface {
	Transform(page PageCapture, cfg TransformConfig) (string, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RunStore archives completed runs.
type RunStore interface {
	SaveRun(ctx context.Context, run RunRecord) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for stored artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
