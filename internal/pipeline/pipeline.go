// Package pipeline runs one archive pass for a keyword: search, filter by
// blocklist and domain ledger, assign IDs, fetch metadata, capture
// screenshots, then persist the report and state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/ledger"
	"github.com/JakeFAU/serp-archiver/internal/metrics"
	"github.com/JakeFAU/serp-archiver/internal/report"
	"github.com/JakeFAU/serp-archiver/internal/sequence"
)

// ErrNoCandidates is returned when filtering leaves nothing to archive. No
// state is touched in that case.
var ErrNoCandidates = errors.New("no candidates left after filtering")

const notifyTimeout = 30 * time.Second

// Capturer assigns a terminal screenshot status to every record.
type Capturer interface {
	CaptureAll(ctx context.Context, records []archive.ResultRecord)
}

// ReportWriter persists a built report.
type ReportWriter interface {
	Write(ctx context.Context, r archive.Report, startedAt time.Time) (report.Result, error)
}

// Config holds the run toggles.
type Config struct {
	Version           string
	MaxResults        int
	FetchConcurrency  int
	EnableDomainDedup bool
	BlockedSubstrings []string
	LedgerPath        string
	// NotifyTopic is the Pub/Sub topic for run-completed messages.
	NotifyTopic string
}

// Deps are the collaborators of a Pipeline. Runs, Publisher and Mirror are
// optional.
type Deps struct {
	Search    archive.SearchProvider
	Fetcher   archive.MetadataFetcher
	Capturer  Capturer
	Reports   ReportWriter
	Counter   *sequence.Counter
	Clock     archive.Clock
	IDs       archive.IDGenerator
	Runs      archive.RunStore
	Publisher archive.Publisher
	Mirror    archive.BlobStore
}

// Pipeline orchestrates runs. Runs must not overlap because the ledger and
// counter files are shared.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New validates cfg and deps.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Pipeline, error) {
	switch {
	case deps.Search == nil:
		return nil, errors.New("search provider is required")
	case deps.Fetcher == nil:
		return nil, errors.New("metadata fetcher is required")
	case deps.Capturer == nil:
		return nil, errors.New("capturer is required")
	case deps.Reports == nil:
		return nil, errors.New("report writer is required")
	case deps.Counter == nil:
		return nil, errors.New("sequence counter is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.IDs == nil:
		return nil, errors.New("id generator is required")
	}
	if cfg.FetchConcurrency < 1 {
		return nil, fmt.Errorf("fetch concurrency must be >= 1, got %d", cfg.FetchConcurrency)
	}
	if cfg.EnableDomainDedup && strings.TrimSpace(cfg.LedgerPath) == "" {
		return nil, errors.New("ledger path is required when domain dedup is enabled")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, deps: deps, logger: logger}, nil
}

// Run archives the results for keyword. It returns ErrNoCandidates when
// filtering leaves nothing, and a wrapped error when searching or persisting
// fails. Per-item fetch and capture failures are recorded in the report.
func (p *Pipeline) Run(ctx context.Context, keyword string) (archive.RunSummary, error) {
	started := time.Now()
	summary, err := p.run(ctx, keyword)
	result := "success"
	switch {
	case errors.Is(err, ErrNoCandidates):
		result = "no_candidates"
	case err != nil:
		result = "error"
	}
	metrics.ObserveRun(result, time.Since(started))
	summary.Duration = time.Since(started).Round(time.Millisecond).String()
	return summary, err
}

func (p *Pipeline) run(ctx context.Context, keyword string) (archive.RunSummary, error) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return archive.RunSummary{}, errors.New("keyword is required")
	}
	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return archive.RunSummary{}, fmt.Errorf("generate run id: %w", err)
	}
	summary := archive.RunSummary{RunID: runID, Keyword: keyword}
	logger := p.logger.With(zap.String("run_id", runID), zap.String("keyword", keyword))
	logger.Info("run started")

	candidates, err := p.deps.Search.Search(ctx, keyword, p.cfg.MaxResults)
	if err != nil {
		return summary, fmt.Errorf("search: %w", err)
	}
	metrics.ObserveCandidates("found", len(candidates))
	logger.Info("search returned candidates", zap.Int("count", len(candidates)))

	candidates, summary.Blocked = p.dropBlocked(candidates, logger)
	if len(candidates) == 0 {
		logger.Warn("every candidate was blocked")
		return summary, ErrNoCandidates
	}

	var led *ledger.Ledger
	if p.cfg.EnableDomainDedup {
		led, err = ledger.Load(p.cfg.LedgerPath)
		if err != nil {
			return summary, fmt.Errorf("load ledger: %w", err)
		}
		candidates, summary.Duplicates = dropKnownDomains(candidates, led, logger)
		if len(candidates) == 0 {
			logger.Warn("every candidate domain was already archived")
			return summary, ErrNoCandidates
		}
	}
	metrics.ObserveCandidates("accepted", len(candidates))

	first := p.deps.Counter.NextRangeStart()
	last := first + len(candidates) - 1
	summary.FirstID = archive.FormatID(first)
	summary.LastID = archive.FormatID(last)

	records := p.fetchAll(ctx, candidates, first)
	for _, rec := range records {
		if rec.Metadata.IsError() {
			summary.FetchFailed++
		}
	}

	p.deps.Capturer.CaptureAll(ctx, records)
	sortByID(records)
	for _, rec := range records {
		switch rec.ScreenshotStatus {
		case archive.ScreenshotSuccess:
			summary.ScreenshotsOK++
		case archive.ScreenshotSkipped:
			summary.ScreenshotsNA++
		default:
			summary.ScreenshotsBad++
		}
	}

	// Assigned IDs must reach disk even if the caller gave up mid-run.
	persistCtx := context.WithoutCancel(ctx)
	generated := p.deps.Clock.Now()
	rep := report.Build(keyword, p.cfg.Version, generated, records)
	written, err := p.deps.Reports.Write(persistCtx, rep, generated)
	if err != nil {
		return summary, fmt.Errorf("write report: %w", err)
	}
	summary.TotalRecords = rep.Metadata.TotalRecords
	summary.GeneratedAt = generated.UTC()
	summary.ReportURI = written.URI
	summary.ReportSHA256 = written.SHA256

	if err := p.deps.Counter.Commit(last); err != nil {
		return summary, fmt.Errorf("commit counter: %w", err)
	}
	metrics.SetLastAssignedID(last)
	if led != nil {
		summary.NewDomains = led.Pending()
		if err := led.Commit(); err != nil {
			return summary, fmt.Errorf("commit ledger: %w", err)
		}
	}
	if summary.NewDomains == nil {
		summary.NewDomains = []string{}
	}

	logger.Info("run completed",
		zap.String("report", summary.ReportURI),
		zap.Int("records", summary.TotalRecords),
		zap.String("first_id", summary.FirstID),
		zap.String("last_id", summary.LastID),
		zap.Int("screenshots_success", summary.ScreenshotsOK),
		zap.Int("screenshots_failed", summary.ScreenshotsBad),
		zap.Int("screenshots_skipped", summary.ScreenshotsNA),
	)
	p.notify(persistCtx, summary, written, logger)
	return summary, nil
}

func (p *Pipeline) dropBlocked(candidates []archive.CandidateItem, logger *zap.Logger) ([]archive.CandidateItem, int) {
	kept := candidates[:0:0]
	blocked := 0
	for _, c := range candidates {
		if matchesAny(c.URL, p.cfg.BlockedSubstrings) {
			blocked++
			logger.Debug("skipping blocked url", zap.String("url", c.URL))
			continue
		}
		kept = append(kept, c)
	}
	metrics.ObserveCandidates("blocked", blocked)
	return kept, blocked
}

func matchesAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// dropKnownDomains accepts each new domain immediately so later candidates
// from the same domain in this run are dropped too.
func dropKnownDomains(
	candidates []archive.CandidateItem,
	led *ledger.Ledger,
	logger *zap.Logger,
) ([]archive.CandidateItem, int) {
	kept := candidates[:0:0]
	dups := 0
	for _, c := range candidates {
		domain := archive.ExtractDomain(c.URL)
		if led.Contains(domain) {
			dups++
			logger.Info("skipping duplicate domain", zap.String("domain", domain), zap.String("url", c.URL))
			continue
		}
		led.Accept(domain)
		kept = append(kept, c)
	}
	metrics.ObserveCandidates("duplicate", dups)
	return kept, dups
}

// fetchAll fans out metadata fetches. A panicking fetch yields the same error
// placeholder as a failed request.
func (p *Pipeline) fetchAll(ctx context.Context, candidates []archive.CandidateItem, first int) []archive.ResultRecord {
	records := make([]archive.ResultRecord, len(candidates))
	g := new(errgroup.Group)
	g.SetLimit(p.cfg.FetchConcurrency)
	for i, c := range candidates {
		id := first + i
		g.Go(func() error {
			records[i] = p.fetchOne(ctx, c, id)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
	return records
}

func (p *Pipeline) fetchOne(ctx context.Context, c archive.CandidateItem, id int) (rec archive.ResultRecord) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("fetch worker panic", zap.Int("id", id), zap.Any("panic", r))
			rec = archive.NewRecord(c, id)
			rec.Metadata = archive.ErrorMetadata(fmt.Errorf("fetch panic: %v", r))
		}
	}()
	return p.deps.Fetcher.Fetch(ctx, c, id)
}

func sortByID(records []archive.ResultRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, errA := archive.ParseID(records[i].ID)
		b, errB := archive.ParseID(records[j].ID)
		if errA != nil || errB != nil {
			return records[i].ID < records[j].ID
		}
		return a < b
	})
}

// notify indexes, announces and mirrors a finished run. Failures are logged
// only.
func (p *Pipeline) notify(ctx context.Context, summary archive.RunSummary, written report.Result, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if p.deps.Runs != nil {
		if err := p.deps.Runs.RecordRun(ctx, summary); err != nil {
			logger.Warn("record run failed", zap.Error(err))
		}
	}
	if p.deps.Publisher != nil && p.cfg.NotifyTopic != "" {
		msgID, err := p.deps.Publisher.Publish(ctx, p.cfg.NotifyTopic, summary)
		if err != nil {
			logger.Warn("publish run notification failed", zap.Error(err))
		} else {
			logger.Debug("published run notification", zap.String("message_id", msgID))
		}
	}
	if p.deps.Mirror != nil {
		uri, err := p.deps.Mirror.PutObject(ctx, written.Name, "application/json", written.Bytes)
		if err != nil {
			logger.Warn("mirror report failed", zap.Error(err))
		} else {
			logger.Info("report mirrored", zap.String("uri", uri))
		}
	}
}
