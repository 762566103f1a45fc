// Package report builds and writes the per-run JSON archive.
package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/archive"
)

const (
	// FileNameLayout is the time layout of report names (ddmmyy-HHMM).
	FileNameLayout = "020106-1504"
	// GeneratedAtLayout renders the report timestamp as ISO-8601 UTC.
	GeneratedAtLayout = "2006-01-02T15:04:05.000000Z"
	contentType       = "application/json"
	// maxNameSuffix bounds the search for a free report name within a minute.
	maxNameSuffix = 99
)

// ErrNameExhausted is returned when every suffixed report name for a minute is
// already taken.
var ErrNameExhausted = errors.New("no free report name")

// existenceChecker is implemented by stores that can report whether a path is
// already occupied. Stores without it are written unconditionally.
type existenceChecker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// Build assembles a report from records that are already in ID order.
func Build(keyword, version string, generatedAt time.Time, records []archive.ResultRecord) archive.Report {
	data := records
	if data == nil {
		data = []archive.ResultRecord{}
	}
	return archive.Report{
		Metadata: archive.ReportMetadata{
			TotalRecords: len(data),
			GeneratedAt:  generatedAt.UTC().Format(GeneratedAtLayout),
			Version:      version,
			Keyword:      keyword,
		},
		Data: data,
	}
}

// FileName returns the report name for a run started at t.
func FileName(t time.Time) string {
	return t.UTC().Format(FileNameLayout) + ".json"
}

// Encode renders the report with two-space indentation. Non-ASCII text and
// HTML characters are written as-is.
func Encode(r archive.Report) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Digest returns the lowercase hex SHA-256 of encoded report bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Result describes a written report.
type Result struct {
	Name   string
	URI    string
	SHA256 string
	Bytes  []byte
}

// Writer persists reports through a blob store.
type Writer struct {
	store  archive.BlobStore
	prefix string
	logger *zap.Logger
}

// NewWriter constructs a Writer. prefix is joined in front of the file name.
func NewWriter(store archive.BlobStore, prefix string, logger *zap.Logger) (*Writer, error) {
	if store == nil {
		return nil, errors.New("report store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, prefix: prefix, logger: logger}, nil
}

// Write encodes r and stores it under the name derived from startedAt. When
// the store can tell that name is taken by an earlier run in the same minute,
// a numeric suffix is added (ddmmyy-HHMM-2.json) instead of replacing it.
func (w *Writer) Write(ctx context.Context, r archive.Report, startedAt time.Time) (Result, error) {
	data, err := Encode(r)
	if err != nil {
		return Result{}, err
	}
	digest := Digest(data)
	name, err := w.freeName(ctx, startedAt)
	if err != nil {
		return Result{}, err
	}
	uri, err := w.store.PutObject(ctx, name, contentType, data)
	if err != nil {
		return Result{}, fmt.Errorf("store report %s: %w", name, err)
	}
	w.logger.Info("report written",
		zap.String("uri", uri),
		zap.Int("records", r.Metadata.TotalRecords),
		zap.String("sha256", digest),
	)
	return Result{Name: name, URI: uri, SHA256: digest, Bytes: data}, nil
}

func (w *Writer) freeName(ctx context.Context, startedAt time.Time) (string, error) {
	base := FileName(startedAt)
	checker, ok := w.store.(existenceChecker)
	if !ok {
		return w.join(base), nil
	}
	stem := strings.TrimSuffix(base, ".json")
	for n := 1; n <= maxNameSuffix; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d.json", stem, n)
		}
		name := w.join(candidate)
		taken, err := checker.Exists(ctx, name)
		if err != nil {
			return "", fmt.Errorf("check report %s: %w", name, err)
		}
		if !taken {
			return name, nil
		}
		w.logger.Warn("report name taken", zap.String("name", name))
	}
	return "", fmt.Errorf("%w for %s", ErrNameExhausted, base)
}

func (w *Writer) join(name string) string {
	if w.prefix == "" {
		return name
	}
	return path.Join(w.prefix, name)
}
