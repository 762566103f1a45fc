package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

// RunStore keeps run summaries in insertion order.
type RunStore struct {
	mu   sync.RWMutex
	runs []archive.RunSummary
	seen map[string]struct{}
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{seen: make(map[string]struct{})}
}

// RecordRun stores summary once per run ID.
func (s *RunStore) RecordRun(_ context.Context, summary archive.RunSummary) error {
	if summary.RunID == "" {
		return errors.New("run id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[summary.RunID]; ok {
		return nil
	}
	s.seen[summary.RunID] = struct{}{}
	summary.NewDomains = append([]string(nil), summary.NewDomains...)
	s.runs = append(s.runs, summary)
	return nil
}

// Runs returns a copy of the recorded summaries.
func (s *RunStore) Runs() []archive.RunSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]archive.RunSummary, len(s.runs))
	copy(out, s.runs)
	return out
}
