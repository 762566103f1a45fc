// Package app builds the archiver's long-lived services from configuration and
// owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/api"
	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/capture"
	"github.com/JakeFAU/serp-archiver/internal/capture/headless"
	"github.com/JakeFAU/serp-archiver/internal/clock/system"
	"github.com/JakeFAU/serp-archiver/internal/config"
	collyfetcher "github.com/JakeFAU/serp-archiver/internal/fetcher/colly"
	"github.com/JakeFAU/serp-archiver/internal/id/uuid"
	"github.com/JakeFAU/serp-archiver/internal/ledger"
	"github.com/JakeFAU/serp-archiver/internal/pipeline"
	gcppublisher "github.com/JakeFAU/serp-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/serp-archiver/internal/report"
	"github.com/JakeFAU/serp-archiver/internal/search/duckduckgo"
	"github.com/JakeFAU/serp-archiver/internal/search/static"
	"github.com/JakeFAU/serp-archiver/internal/sequence"
	"github.com/JakeFAU/serp-archiver/internal/storage"
	gcsstorage "github.com/JakeFAU/serp-archiver/internal/storage/gcs"
	localstorage "github.com/JakeFAU/serp-archiver/internal/storage/local"
	pgstore "github.com/JakeFAU/serp-archiver/internal/storage/postgres"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	verifyTimeout     = 15 * time.Second
)

// App contains the application's dependencies.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	pipeline  *pipeline.Pipeline
	counter   *sequence.Counter
	capturer  *capture.Capturer
	output    *localstorage.BlobStore
	gcsClient *gcs.Client
	runStore  *pgstore.RunStore
	publisher *gcppublisher.Publisher
}

// Build creates the application's dependencies. Optional integrations (GCS
// mirror, Postgres run index, Pub/Sub notifications) are only dialed when
// configured, and fail the build when they are configured but unreachable.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.String("search_provider", cfg.Search.Provider),
		zap.String("output_dir", cfg.Output.Dir),
		zap.Bool("domain_dedup", cfg.State.DomainDedup),
	)

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	search, err := a.setupSearch()
	if err != nil {
		return err
	}

	a.output, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Output.Dir})
	if err != nil {
		return fmt.Errorf("output store init failed: %w", err)
	}

	mirror, err := a.setupMirror(ctx)
	if err != nil {
		return err
	}
	runs, err := a.setupRunStore(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	a.counter, err = sequence.New(a.cfg.State.LastIDFile)
	if err != nil {
		return fmt.Errorf("counter init failed: %w", err)
	}

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:            a.cfg.Fetch.UserAgent,
		Timeout:              a.cfg.FetchTimeout(),
		RatePerSecond:        a.cfg.Fetch.RatePerSecond,
		PerHostRatePerSecond: a.cfg.Fetch.PerHostRatePerSecond,
		MaxBodyBytes:         a.cfg.Fetch.MaxBodyBytes,
	}, a.logger.Named("fetch"))

	a.capturer, err = a.setupCapture(mirror)
	if err != nil {
		return err
	}

	reports, err := report.NewWriter(a.output, "", a.logger.Named("report"))
	if err != nil {
		return fmt.Errorf("report writer init failed: %w", err)
	}

	deps := pipeline.Deps{
		Search:   search,
		Fetcher:  fetcher,
		Capturer: a.capturer,
		Reports:  reports,
		Counter:  a.counter,
		Clock:    system.New(),
		IDs:      uuid.New(),
		Mirror:   mirror,
	}
	// Typed nils must not reach the pipeline's optional interfaces.
	if runs != nil {
		deps.Runs = runs
	}
	if publisher != nil {
		deps.Publisher = publisher
	}

	a.pipeline, err = pipeline.New(pipeline.Config{
		Version:           a.cfg.Report.Version,
		MaxResults:        a.cfg.Search.MaxResults,
		FetchConcurrency:  a.cfg.Fetch.Concurrency,
		EnableDomainDedup: a.cfg.State.DomainDedup,
		BlockedSubstrings: a.cfg.Filter.BlockedSubstrings,
		LedgerPath:        a.cfg.State.DomainsFile,
		NotifyTopic:       a.cfg.PubSub.TopicName,
	}, deps, a.logger.Named("pipeline"))
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}
	return nil
}

func (a *App) setupSearch() (archive.SearchProvider, error) {
	switch a.cfg.Search.Provider {
	case config.ProviderStatic:
		p, err := static.Load(a.cfg.Search.StaticFile)
		if err != nil {
			return nil, fmt.Errorf("static search init failed: %w", err)
		}
		a.logger.Info("using static search provider", zap.String("file", a.cfg.Search.StaticFile))
		return p, nil
	default:
		p, err := duckduckgo.New(duckduckgo.Config{
			Endpoint:  a.cfg.Search.Endpoint,
			Region:    a.cfg.Search.Region,
			UserAgent: a.cfg.Fetch.UserAgent,
			Timeout:   time.Duration(a.cfg.Search.TimeoutSeconds) * time.Second,
		}, a.logger.Named("search"))
		if err != nil {
			return nil, fmt.Errorf("duckduckgo search init failed: %w", err)
		}
		a.logger.Info("using duckduckgo search provider", zap.String("endpoint", a.cfg.Search.Endpoint))
		return p, nil
	}
}

// setupMirror returns nil when no bucket is configured.
func (a *App) setupMirror(ctx context.Context) (archive.BlobStore, error) {
	if a.cfg.Storage.GCSBucket == "" {
		a.logger.Debug("no GCS bucket configured, artifacts stay local")
		return nil, nil
	}
	var err error
	a.gcsClient, err = gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client init failed: %w", err)
	}
	store, err := gcsstorage.New(a.gcsClient, gcsstorage.Config{
		Bucket: a.cfg.Storage.GCSBucket,
		Prefix: a.cfg.Storage.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("gcs blob store init failed: %w", err)
	}
	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	if err := store.VerifyBucket(verifyCtx); err != nil {
		return nil, err
	}
	a.logger.Info("mirroring artifacts to GCS",
		zap.String("bucket", a.cfg.Storage.GCSBucket),
		zap.String("prefix", a.cfg.Storage.Prefix),
	)
	return store, nil
}

func (a *App) setupRunStore(ctx context.Context) (*pgstore.RunStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no DSN specified, run index disabled")
		return nil, nil
	}
	var err error
	a.runStore, err = pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("run store init failed: %w", err)
	}
	a.logger.Info("run index initialized", zap.String("table", a.cfg.DB.Table))
	return a.runStore, nil
}

func (a *App) setupPublisher(ctx context.Context) (*gcppublisher.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.logger.Debug("no Pub/Sub topic configured, run notifications disabled")
		return nil, nil
	}
	verifyCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	var err error
	a.publisher, err = gcppublisher.Dial(verifyCtx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.publisher, nil
}

// setupCapture writes screenshots below the output directory and, when a
// mirror is configured, copies each one there as well.
func (a *App) setupCapture(mirror archive.BlobStore) (*capture.Capturer, error) {
	renderer, err := headless.New(headless.Config{
		ExecPath:        a.cfg.Capture.ExecPath,
		UserAgent:       a.cfg.Capture.UserAgent,
		WindowWidth:     a.cfg.Capture.WindowWidth,
		WindowHeight:    a.cfg.Capture.WindowHeight,
		PageLoadTimeout: a.cfg.PageLoadTimeout(),
		SettleDelay:     a.cfg.SettleDelay(),
	}, a.logger.Named("render"))
	if err != nil {
		return nil, fmt.Errorf("renderer init failed: %w", err)
	}
	images := storage.NewTee(a.output, mirror, a.logger.Named("mirror"))
	capturer, err := capture.New(renderer, images, capture.Config{
		Retries:     a.cfg.Capture.Retries,
		RetryDelay:  a.cfg.RetryDelay(),
		Concurrency: a.cfg.Capture.Concurrency,
		PathPrefix:  filepath.ToSlash(a.cfg.Output.ImageDir),
	}, a.logger.Named("capture"))
	if err != nil {
		return nil, fmt.Errorf("capturer init failed: %w", err)
	}
	a.logger.Info("capture configured",
		zap.Int("concurrency", capturer.Concurrency()),
		zap.Int("retries", a.cfg.Capture.Retries),
	)
	return capturer, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config {
	return a.cfg
}

// CaptureConcurrency returns the effective screenshot pool size.
func (a *App) CaptureConcurrency() int {
	return a.capturer.Concurrency()
}

// Run archives keyword.
func (a *App) Run(ctx context.Context, keyword string) (archive.RunSummary, error) {
	summary, err := a.pipeline.Run(ctx, keyword)
	if err != nil {
		return summary, fmt.Errorf("run %q: %w", keyword, err)
	}
	return summary, nil
}

// State reads the persisted counter and ledger.
func (a *App) State() (api.State, error) {
	last := a.counter.Load()
	led, err := ledger.Load(a.cfg.State.DomainsFile)
	if err != nil {
		return api.State{}, fmt.Errorf("load ledger: %w", err)
	}
	st := api.State{
		NextID:  archive.FormatID(last + 1),
		Domains: led.Len(),
	}
	if last != sequence.NoValue {
		id := archive.FormatID(last)
		st.LastID = &id
	}
	return st, nil
}

// Serve runs the HTTP control server on the configured port until ctx is
// canceled.
func (a *App) Serve(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", a.cfg.Server.Port, err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	apiServer := api.NewServer(a, a, a.cfg, a.logger.Named("api"))
	srv := &http.Server{
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close releases network clients. It is safe to call on a partially built App.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	a.logger.Debug("shutdown complete")
}
