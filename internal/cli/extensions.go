package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"mismobridge/internal/mapping"
)

func extensionsCmd(opts *options) *cobra.Command {
	c := &cobra.Command{
		Use:   "extensions",
		Short: "Manage the extension registry lock",
	}

	c.AddCommand(&cobra.Command{
		Use:   "lock",
		Short: "Print the lock file for the current extension registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, table, err := opts.load()
			if err != nil {
				return err
			}
			data, err := mapping.MarshalLock(table.Extensions.Lock())
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), "", data)
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "verify <extensions.lock>",
		Short: "Check that the registry still honours a published lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, table, err := opts.load()
			if err != nil {
				return err
			}
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			locked, err := mapping.ParseLock(data)
			if err != nil {
				return err
			}
			if err := table.Extensions.VerifyLock(locked); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d published extensions intact (registry version %d)\n",
				len(locked), table.Extensions.Version)
			return nil
		},
	})
	return c
}
