// Package capture turns result records into screenshots. Each record gets a
// bounded number of isolated render attempts; exhausting them marks the record
// failed without affecting its siblings.
package capture

import (
	"context"
	"errors"
	"fmt"
	"path"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/metrics"
	"github.com/JakeFAU/serp-archiver/internal/retry"
)

const (
	defaultRetries    = 2
	defaultRetryDelay = 2 * time.Second
	imageContentType  = "image/png"
)

// Config controls retry and pool behavior.
type Config struct {
	// Retries is the number of attempts allowed after the first one.
	Retries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// Concurrency bounds parallel captures. 1 is sequential, 0 sizes the pool
	// from the host CPU count.
	Concurrency int
	// PathPrefix is prepended to "<id>.png" when writing images.
	PathPrefix string
}

// Capturer drives a Renderer with retries and stores successful images.
type Capturer struct {
	renderer    archive.Renderer
	store       archive.BlobStore
	policy      retry.Policy
	concurrency int
	prefix      string
	logger      *zap.Logger
}

// New constructs a Capturer.
func New(renderer archive.Renderer, store archive.BlobStore, cfg Config, logger *zap.Logger) (*Capturer, error) {
	if renderer == nil {
		return nil, errors.New("renderer is required")
	}
	if store == nil {
		return nil, errors.New("image store is required")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Concurrency < 0 {
		return nil, fmt.Errorf("concurrency must be >= 0, got %d", cfg.Concurrency)
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = AutoConcurrency()
	}
	return &Capturer{
		renderer:    renderer,
		store:       store,
		policy:      retry.FromBudget(cfg.Retries, cfg.RetryDelay),
		concurrency: concurrency,
		prefix:      cfg.PathPrefix,
		logger:      logger,
	}, nil
}

// DefaultConfig mirrors the production retry budget.
func DefaultConfig() Config {
	return Config{Retries: defaultRetries, RetryDelay: defaultRetryDelay, Concurrency: 1}
}

// AutoConcurrency sizes the pool from the host, leaving one core free.
func AutoConcurrency() int {
	return max(2, runtime.NumCPU()-1)
}

// Concurrency returns the effective pool size.
func (c *Capturer) Concurrency() int {
	return c.concurrency
}

// ImagePath returns the store path used for the record with the given ID.
func (c *Capturer) ImagePath(id string) string {
	name := id + ".png"
	if c.prefix == "" {
		return name
	}
	return path.Join(c.prefix, name)
}

// Capture renders url and stores the image under id. It returns the stored
// URI, or the last error once the retry budget is exhausted.
func (c *Capturer) Capture(ctx context.Context, url, id string) (string, error) {
	policy := c.policy
	policy.OnRetry = func(attempt int, err error) {
		c.logger.Info("screenshot attempt failed, retrying",
			zap.String("id", id),
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.Attempts()),
			zap.Error(err),
		)
	}

	var uri string
	attempts, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		stored, attemptErr := c.attempt(ctx, url, id)
		if attemptErr != nil {
			metrics.ObserveCaptureAttempt("error")
			return attemptErr
		}
		metrics.ObserveCaptureAttempt("success")
		uri = stored
		return nil
	})
	if err != nil {
		c.logger.Warn("screenshot failed",
			zap.String("id", id),
			zap.String("url", url),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return "", err
	}
	c.logger.Debug("screenshot stored",
		zap.String("id", id),
		zap.String("uri", uri),
		zap.Int("attempts", attempts),
	)
	return uri, nil
}

// attempt runs one render-and-store cycle. Panics from the renderer count as
// a failed attempt.
func (c *Capturer) attempt(ctx context.Context, url, id string) (uri string, err error) {
	metrics.IncActiveCaptures()
	defer metrics.DecActiveCaptures()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panic: %v", rec)
		}
	}()

	img, err := c.renderer.Render(ctx, url)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", url, err)
	}
	if len(img) == 0 {
		return "", errors.New("renderer returned an empty image")
	}
	stored, err := c.store.PutObject(ctx, c.ImagePath(id), imageContentType, img)
	if err != nil {
		return "", fmt.Errorf("store screenshot: %w", err)
	}
	return stored, nil
}

// CaptureAll sets the screenshot status of every record. Records without a
// usable URL are skipped without any attempt. Failures never stop the batch.
func (c *Capturer) CaptureAll(ctx context.Context, records []archive.ResultRecord) {
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i := range records {
		if !records[i].HasCapturableURL() {
			records[i].ScreenshotStatus = archive.ScreenshotSkipped
			metrics.ObserveScreenshot(string(archive.ScreenshotSkipped))
			continue
		}
		g.Go(func() error {
			records[i].ScreenshotStatus = c.captureOne(ctx, records[i].URL, records[i].ID)
			metrics.ObserveScreenshot(string(records[i].ScreenshotStatus))
			return nil
		})
	}
	_ = g.Wait() // workers never return errors
}

func (c *Capturer) captureOne(ctx context.Context, url, id string) (status archive.ScreenshotStatus) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("capture worker panic", zap.String("id", id), zap.Any("panic", rec))
			status = archive.ScreenshotFailed
		}
	}()
	if _, err := c.Capture(ctx, url, id); err != nil {
		return archive.ScreenshotFailed
	}
	return archive.ScreenshotSuccess
}
