// Package headless renders pages to PNG with headless Chrome. Every Render call
// starts its own browser process and tears it down before returning, so a
// crashed or wedged page never leaks into the next attempt.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const (
	defaultUserAgent       = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
	defaultWidth           = 1920
	defaultHeight          = 1080
	defaultPageLoadTimeout = 30 * time.Second
	captureTimeout         = 30 * time.Second
)

// Config controls the browser session used for each render.
type Config struct {
	// ExecPath points at the Chrome/Chromium binary. Empty uses chromedp's lookup.
	ExecPath        string
	UserAgent       string
	WindowWidth     int
	WindowHeight    int
	PageLoadTimeout time.Duration
	// SettleDelay is the pause after load so late scripts can paint.
	SettleDelay time.Duration
}

// Renderer implements archive.Renderer using chromedp.
type Renderer struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg, fills defaults and returns a Renderer.
func New(cfg Config, logger *zap.Logger) (*Renderer, error) {
	if cfg.WindowWidth < 0 || cfg.WindowHeight < 0 {
		return nil, fmt.Errorf("window size must be positive, got %dx%d", cfg.WindowWidth, cfg.WindowHeight)
	}
	if cfg.PageLoadTimeout < 0 || cfg.SettleDelay < 0 {
		return nil, errors.New("page load timeout and settle delay must be >= 0")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.WindowWidth == 0 {
		cfg.WindowWidth = defaultWidth
	}
	if cfg.WindowHeight == 0 {
		cfg.WindowHeight = defaultHeight
	}
	if cfg.PageLoadTimeout == 0 {
		cfg.PageLoadTimeout = defaultPageLoadTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{cfg: cfg, logger: logger}, nil
}

// Config returns the effective configuration.
func (r *Renderer) Config() Config {
	return r.cfg
}

func (r *Renderer) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(r.cfg.WindowWidth, r.cfg.WindowHeight),
		chromedp.UserAgent(r.cfg.UserAgent),
	)
	if r.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ExecPath))
	}
	return opts
}

// Render loads url in a fresh browser and returns a viewport PNG. The browser
// and its temporary profile are released on every return path.
func (r *Renderer) Render(ctx context.Context, url string) ([]byte, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions()...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	meta := &documentStatus{}
	chromedp.ListenTarget(browserCtx, meta.captureEvent)

	var img []byte
	err := chromedp.Run(browserCtx,
		r.setupAction(),
		r.navigateAction(url),
		chromedp.Sleep(r.cfg.SettleDelay),
		r.screenshotAction(&img),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	if status := meta.get(); status >= 400 {
		r.logger.Debug("captured error page", zap.String("url", url), zap.Int64("status", status))
	}
	return img, nil
}

func (r *Renderer) setupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		err := emulation.SetDeviceMetricsOverride(int64(r.cfg.WindowWidth), int64(r.cfg.WindowHeight), 1, false).Do(ctx)
		if err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		return nil
	})
}

// navigateAction bounds only the load phase by PageLoadTimeout.
func (r *Renderer) navigateAction(url string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		navCtx, cancel := context.WithTimeout(ctx, r.cfg.PageLoadTimeout)
		defer cancel()
		if err := chromedp.Navigate(url).Do(navCtx); err != nil {
			return fmt.Errorf("navigate %s: %w", url, err)
		}
		return nil
	})
}

func (r *Renderer) screenshotAction(dst *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		shotCtx, cancel := context.WithTimeout(ctx, captureTimeout)
		defer cancel()
		buf, err := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithFromSurface(true).
			Do(shotCtx)
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		*dst = buf
		return nil
	})
}

// documentStatus records the HTTP status of the main document.
type documentStatus struct {
	mu     sync.Mutex
	status int64
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	d.status = resp.Response.Status
	d.mu.Unlock()
}

func (d *documentStatus) get() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}
