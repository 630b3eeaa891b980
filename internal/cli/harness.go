package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mismobridge/internal/harness"
	"mismobridge/internal/pipeline/handler"
	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/pipeline/service"
)

func harnessCmd(opts *options) *cobra.Command {
	var (
		cases    int
		seed     uint64
		timeout  time.Duration
		workers  int
		jsonPath string
	)

	c := &cobra.Command{
		Use:   "harness",
		Short: "Run generated records through export, validation and import",
		Long: "Generate synthetic records, round-trip each one through the selected pack and\n" +
			"report per-case outcomes and enum coverage. Exits non-zero if any case fails.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var extra []service.Option
			if workers > 0 {
				extra = append(extra, service.WithHarnessWorkers(workers))
			}
			a, err := opts.app(cmd.ErrOrStderr(), extra...)
			if err != nil {
				return err
			}
			sum, err := a.service.RunHarness(cmd.Context(), models.HarnessRequest{
				Target:  opts.target(),
				Cases:   cases,
				Seed:    seed,
				Timeout: timeout,
			})
			if err != nil {
				return err
			}
			if jsonPath != "" {
				if err := writeJSON(cmd.OutOrStdout(), jsonPath, handler.FromSummary(sum)); err != nil {
					return err
				}
			}
			if jsonPath != "-" {
				if err := printSummary(cmd, sum); err != nil {
					return err
				}
			}
			if sum.Failed > 0 || sum.Abandoned > 0 {
				return fmt.Errorf("%d of %d cases failed, %d abandoned", sum.Failed, sum.Total, sum.Abandoned)
			}
			return nil
		},
	}

	c.Flags().IntVarP(&cases, "cases", "n", 100, "Number of records to generate")
	c.Flags().Uint64Var(&seed, "seed", 1, "Generator seed; equal seeds give equal records")
	c.Flags().DurationVar(&timeout, "timeout", 0, "Abandon remaining cases after this long (0: no limit)")
	c.Flags().IntVar(&workers, "workers", 0, "Concurrent cases (default: GOMAXPROCS)")
	c.Flags().StringVar(&jsonPath, "json", "", "Write the full summary as JSON to this file (\"-\" for stdout only)")
	return c
}

func printSummary(cmd *cobra.Command, sum *harness.Summary) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "pack %s: %d/%d passed (%.1f%%), %d failed, %d abandoned in %s\n\n",
		sum.PackID, sum.Passed, sum.Total, sum.PassRate*100, sum.Failed, sum.Abandoned, sum.Duration.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DIMENSION\tCOVERED\tPERCENT\tMISSING")
	for _, c := range sum.Coverage {
		fmt.Fprintf(tw, "%s\t%d/%d\t%.1f\t%v\n", c.Dimension, c.Covered, c.Total, c.Percent, c.Missing)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, f := range sum.Failures() {
		fmt.Fprintf(w, "\ncase %d (%s) %s: %s", f.ID, f.Label, f.Final, f.Reason)
		if f.FirstDivergence != "" {
			fmt.Fprintf(w, " at %s", f.FirstDivergence)
		}
		fmt.Fprintln(w)
	}
	return nil
}
