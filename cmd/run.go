package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/config"
	"github.com/JakeFAU/serp-archiver/internal/pipeline"
)

type runOptions struct {
	keyword            string
	maxResults         int
	captureConcurrency int
	noDedup            bool
}

// newRunCmd creates the 'run' subcommand, which archives one keyword.
func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive the search results for one keyword",
		Long: `Searches for the keyword, filters blocked URLs and already archived
domains, then fetches metadata and screenshots for what is left. Prompts for
the keyword on stdin when --keyword is not given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchive(cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.keyword, "keyword", "k", "", "keyword to search for")
	cmd.Flags().IntVar(&opts.maxResults, "max-results", 0, "number of search results to request")
	cmd.Flags().IntVar(&opts.captureConcurrency, "capture-concurrency", 0,
		"parallel browser captures (0 sizes from CPU count, 1 is sequential)")
	cmd.Flags().BoolVar(&opts.noDedup, "no-dedup", false, "archive domains even if they were seen before")
	return cmd
}

func runArchive(cmd *cobra.Command, opts *runOptions) error {
	sess, err := resolveSession(cmd.Context())
	if err != nil {
		return err
	}
	cfg := applyRunFlags(cmd, sess.cfg, opts)

	keyword := strings.TrimSpace(opts.keyword)
	if keyword == "" {
		keyword, err = promptKeyword(cmd.InOrStdin(), cmd.OutOrStdout())
		if err != nil {
			return err
		}
	}

	archiver, err := newArchiver(cmd.Context(), cfg, sess.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer archiver.Close()

	sess.logger.Info("starting run",
		zap.String("keyword", keyword),
		zap.Int("capture_concurrency", archiver.CaptureConcurrency()),
		zap.Bool("domain_dedup", cfg.State.DomainDedup),
	)
	summary, err := archiver.Run(cmd.Context(), keyword)
	if errors.Is(err, pipeline.ErrNoCandidates) {
		fmt.Fprintln(cmd.OutOrStdout(), "No new results to archive.")
		return nil
	}
	if err != nil {
		return err
	}
	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

// applyRunFlags overlays explicitly set flags on the loaded configuration.
func applyRunFlags(cmd *cobra.Command, cfg config.Config, opts *runOptions) config.Config {
	flags := cmd.Flags()
	if flags.Changed("max-results") {
		cfg.Search.MaxResults = opts.maxResults
	}
	if flags.Changed("capture-concurrency") {
		cfg.Capture.Concurrency = opts.captureConcurrency
	}
	if opts.noDedup {
		cfg.State.DomainDedup = false
	}
	return cfg
}

func promptKeyword(in io.Reader, out io.Writer) (string, error) {
	fmt.Fprint(out, "Enter keyword: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read keyword: %w", err)
	}
	keyword := strings.TrimSpace(line)
	if keyword == "" {
		return "", errors.New("keyword is required")
	}
	return keyword, nil
}

func printSummary(w io.Writer, s archive.RunSummary) {
	fmt.Fprintf(w, "Report:       %s\n", s.ReportURI)
	fmt.Fprintf(w, "Records:      %d (IDs %s-%s)\n", s.TotalRecords, s.FirstID, s.LastID)
	fmt.Fprintf(w, "Skipped:      %d blocked, %d duplicate domains\n", s.Blocked, s.Duplicates)
	fmt.Fprintf(w, "Fetch errors: %d\n", s.FetchFailed)
	fmt.Fprintf(w, "Screenshots:  %d success, %d failed, %d skipped\n",
		s.ScreenshotsOK, s.ScreenshotsBad, s.ScreenshotsNA)
	fmt.Fprintf(w, "Duration:     %s\n", s.Duration)
}
