// Package static serves search results from a JSON file. It is used for
// offline runs and for replaying a captured result set.
package static

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

// Provider implements archive.SearchProvider over a fixed candidate list.
type Provider struct {
	items []archive.CandidateItem
}

// New returns a Provider that serves items as given.
func New(items []archive.CandidateItem) *Provider {
	return &Provider{items: append([]archive.CandidateItem(nil), items...)}
}

// Load reads a JSON array of candidates. Entries may use either the
// "url"/"snippet" or the "href"/"body" field names.
func Load(path string) (*Provider, error) {
	if path == "" {
		return nil, errors.New("static search file is required")
	}
	// #nosec G304 -- operator-supplied results file.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static results: %w", err)
	}
	var items []archive.CandidateItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode static results %s: %w", path, err)
	}
	return New(items), nil
}

// Search ignores query and returns up to limit candidates in file order.
// limit <= 0 returns everything.
func (p *Provider) Search(ctx context.Context, _ string, limit int) ([]archive.CandidateItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search canceled: %w", err)
	}
	n := len(p.items)
	if limit > 0 && limit < n {
		n = limit
	}
	return append([]archive.CandidateItem(nil), p.items[:n]...), nil
}
