package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/serp-archiver/internal/archive"
	"github.com/JakeFAU/serp-archiver/internal/ledger"
	"github.com/JakeFAU/serp-archiver/internal/sequence"
)

// newStateCmd creates the 'state' subcommand. It reads the counter and ledger
// without building the rest of the application.
func newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Print the ID counter and the number of archived domains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := resolveSession(cmd.Context())
			if err != nil {
				return err
			}
			counter, err := sequence.New(sess.cfg.State.LastIDFile)
			if err != nil {
				return fmt.Errorf("open counter: %w", err)
			}
			last, err := counter.Inspect()
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v; numbering restarts at 0\n", err)
			}
			led, err := ledger.Load(sess.cfg.State.DomainsFile)
			if err != nil {
				return fmt.Errorf("load ledger: %w", err)
			}

			out := cmd.OutOrStdout()
			if last == sequence.NoValue {
				fmt.Fprintf(out, "Last ID:  none (%s)\n", counter.Path())
			} else {
				fmt.Fprintf(out, "Last ID:  %s (%s)\n", archive.FormatID(last), counter.Path())
			}
			fmt.Fprintf(out, "Next ID:  %s\n", archive.FormatID(last+1))
			fmt.Fprintf(out, "Domains:  %d (%s)\n", led.Len(), led.Path())
			return nil
		},
	}
}
