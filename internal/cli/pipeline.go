package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mismobridge/internal/pipeline/handler"
	"mismobridge/internal/pipeline/models"
	"mismobridge/internal/report"
)

var (
	errBlocked     = errors.New("export blocked by preflight")
	errQuarantined = errors.New("document quarantined: no pack detected")
	errFailed      = errors.New("conformance check failed")
)

func exportCmd(opts *options) *cobra.Command {
	var out, reportPath string
	var skipPreflight bool

	c := &cobra.Command{
		Use:   "export <record.json>",
		Short: "Render a canonical record as a MISMO document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := readRecord(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			a, err := opts.app(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			res, err := a.service.Export(cmd.Context(), models.ExportRequest{
				Target:        opts.target(),
				Record:        rec,
				SkipPreflight: skipPreflight,
			})
			if err != nil {
				return err
			}
			if res.Blocked {
				if err := writeJSON(cmd.OutOrStdout(), reportPath, res.Report); err != nil {
					return err
				}
				return errBlocked
			}
			if err := writeOutput(cmd.OutOrStdout(), out, res.Document); err != nil {
				return err
			}
			if reportPath != "" {
				if err := writeJSON(cmd.OutOrStdout(), reportPath, res.Report); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s %s\n", res.PackID, res.Report.Status, res.ContentHash)
			if res.Report.Blocking() {
				return errFailed
			}
			return nil
		},
	}

	c.Flags().StringVarP(&out, "out", "o", "", "Write the document here instead of stdout")
	c.Flags().StringVar(&reportPath, "report", "", "Write the conformance report to this file")
	c.Flags().BoolVar(&skipPreflight, "skip-preflight", false, "Export without running preflight rules")
	return c
}

func importCmd(opts *options) *cobra.Command {
	var sinkDir string

	c := &cobra.Command{
		Use:   "import <document.xml>",
		Short: "Map a MISMO document to a canonical record",
		Long: "Map a MISMO document to a canonical record. Without --mode or --pack the pack\n" +
			"is detected from the document; undetectable documents are quarantined.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			extra, err := fileSink(sinkDir)
			if err != nil {
				return err
			}
			a, err := opts.app(cmd.ErrOrStderr(), extra...)
			if err != nil {
				return err
			}
			target := opts.target()
			res, err := a.service.Import(cmd.Context(), models.ImportRequest{
				Target:     target,
				Document:   data,
				AutoDetect: target.Mode == "" && target.PackID == "",
			})
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), "", handler.FromImportResult(res)); err != nil {
				return err
			}
			switch {
			case res.Quarantined:
				return errQuarantined
			case res.Report.Blocking():
				return errFailed
			}
			return nil
		},
	}

	c.Flags().StringVar(&sinkDir, "sink-dir", "", "Deliver imported records as JSON files into this directory")
	return c
}

func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <document.xml>",
		Short: "Check a document against a schema pack",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			a, err := opts.app(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rep, err := a.service.Validate(cmd.Context(), models.ValidateRequest{Target: opts.target(), Document: data})
			if err != nil {
				return err
			}
			return printReport(cmd, rep)
		},
	}
}

func preflightCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "preflight <record.json>",
		Short: "Run pack rules against a canonical record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rec, err := readRecord(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			a, err := opts.app(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			rep, err := a.service.Preflight(cmd.Context(), models.PreflightRequest{Target: opts.target(), Record: rec})
			if err != nil {
				return err
			}
			return printReport(cmd, rep)
		},
	}
}

func printReport(cmd *cobra.Command, rep *report.Report) error {
	if err := writeJSON(cmd.OutOrStdout(), "", rep); err != nil {
		return err
	}
	if rep.Blocking() {
		return errFailed
	}
	return nil
}
