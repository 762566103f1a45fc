package archive

import (
	"context"
	"time"
)

// SearchProvider turns a keyword into candidate items.
type SearchProvider interface {
	Search(ctx context.Context, query string, limit int) ([]CandidateItem, error)
}

// MetadataFetcher enriches a candidate with page metadata. Fetch failures are
// recorded in the returned record, never returned as errors.
type MetadataFetcher interface {
	Fetch(ctx context.Context, candidate CandidateItem, id int) ResultRecord
}

// Renderer renders a URL in an isolated browser session and returns the
// encoded image.
type Renderer interface {
	Render(ctx context.Context, url string) ([]byte, error)
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore indexes completed runs.
type RunStore interface {
	RecordRun(ctx context.Context, summary RunSummary) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
