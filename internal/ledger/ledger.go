// Package ledger persists the set of domains that have already been archived.
//
// The on-disk form is append-only, one domain per line. Deduplication relies
// entirely on the in-memory set being consulted before a domain is accepted;
// the file itself is never rewritten or deduplicated.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

// Ledger is the in-memory view of the persisted domain set plus the domains
// accepted during the current run. It is not safe for concurrent mutation.
type Ledger struct {
	path    string
	seen    map[string]struct{}
	pending []string
}

// Load reads the ledger at path. A missing file yields an empty ledger.
func Load(path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("ledger path is required")
	}
	l := &Ledger{
		path: path,
		seen: make(map[string]struct{}),
	}
	f, err := os.Open(path) // #nosec G304 -- path comes from operator configuration.
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("open ledger %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		domain := strings.TrimSpace(scanner.Text())
		if domain == "" {
			continue
		}
		l.seen[domain] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	return l, nil
}

// Path returns the backing file location.
func (l *Ledger) Path() string {
	return l.path
}

// Len returns the number of known domains, including pending ones.
func (l *Ledger) Len() int {
	return len(l.seen)
}

// Contains reports whether domain was seen in any prior run or accepted in
// this one.
func (l *Ledger) Contains(domain string) bool {
	_, ok := l.seen[domain]
	return ok
}

// Accept records domain as processed. Empty and unknown domains are never
// recorded, so candidates without a parsable host are not deduplicated.
func (l *Ledger) Accept(domain string) bool {
	if domain == "" || domain == archive.UnknownDomain {
		return false
	}
	if l.Contains(domain) {
		return false
	}
	l.seen[domain] = struct{}{}
	l.pending = append(l.pending, domain)
	return true
}

// Pending returns the domains accepted since the last commit, in order.
func (l *Ledger) Pending() []string {
	out := make([]string, len(l.pending))
	copy(out, l.pending)
	return out
}

// Commit appends the pending domains to the ledger file. With nothing pending
// the file is left untouched.
func (l *Ledger) Commit() error {
	if len(l.pending) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o750); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open ledger %s for append: %w", l.path, err)
	}
	w := bufio.NewWriter(f)
	for _, domain := range l.pending {
		if _, err := w.WriteString(domain + "\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("append ledger entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush ledger: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync ledger: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	l.pending = nil
	return nil
}
