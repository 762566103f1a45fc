// Package collyfetcher implements archive.MetadataFetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/metrics"
	"github.com/JakeFAU/serp-archiver/internal/ogmeta"
	"github.com/JakeFAU/serp-archiver/internal/policy/ratelimit"
)

const defaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// RatePerSecond caps outbound requests across all workers; 0 disables it.
	RatePerSecond float64
	// PerHostRatePerSecond caps requests to any single host; 0 disables it.
	PerHostRatePerSecond float64
	// MaxBodyBytes caps the downloaded body; 0 keeps colly's default.
	MaxBodyBytes int
}

// Fetcher downloads a page and extracts its social metadata.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       *rate.Limiter
	hostLimiter   *ratelimit.Limiter
	logger        *zap.Logger
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config, logger *zap.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	// Clones share the backend, so transport and timeout are fixed here once.
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	var hostLimiter *ratelimit.Limiter
	if cfg.PerHostRatePerSecond > 0 {
		hostLimiter = ratelimit.New(ratelimit.Config{DefaultRPS: cfg.PerHostRatePerSecond, DefaultBurst: 1})
	}
	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		hostLimiter:   hostLimiter,
		logger:        logger,
	}
}

// Fetch builds the record for candidate under id. Transport, timeout and
// status failures are written into every metadata field instead of failing the
// item.
func (f *Fetcher) Fetch(ctx context.Context, candidate archive.CandidateItem, id int) archive.ResultRecord {
	record := archive.NewRecord(candidate, id)
	if candidate.URL == "" {
		return record
	}

	start := time.Now()
	body, err := f.download(ctx, candidate.URL)
	site := metrics.SanitizeSite(candidate.URL)
	if err != nil {
		record.Metadata = archive.ErrorMetadata(err)
		metrics.ObserveFetch(site, "error", 0, time.Since(start))
		f.logger.Warn("metadata fetch failed",
			zap.String("id", record.ID),
			zap.String("url", candidate.URL),
			zap.Error(err),
		)
		return record
	}

	meta, err := ogmeta.Extract(body)
	if err != nil {
		record.Metadata = archive.ErrorMetadata(err)
		metrics.ObserveFetch(site, "parse_error", len(body), time.Since(start))
		return record
	}
	record.Metadata = meta
	metrics.ObserveFetch(site, "success", len(body), time.Since(start))
	f.logger.Debug("metadata fetched",
		zap.String("id", record.ID),
		zap.String("url", candidate.URL),
		zap.Int("bytes", len(body)),
	)
	return record
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("fetch rate limit: %w", err)
		}
	}
	if f.hostLimiter != nil {
		if err := f.hostLimiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("fetch host rate limit: %w", err)
		}
	}
	var (
		body     []byte
		fetchErr error
	)
	collector := f.buildCollector(&body, &fetchErr)
	if err := f.runCollector(ctx, collector, url, &fetchErr); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) buildCollector(body *[]byte, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	f.configureCollectorHooks(collector, body, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, body *[]byte, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*body = append([]byte(nil), r.Body...)
	})
	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = fmt.Errorf("unexpected status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return fmt.Errorf("visit failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
