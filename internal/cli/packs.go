package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func packsCmd(opts *options) *cobra.Command {
	c := &cobra.Command{
		Use:   "packs",
		Short: "Inspect the registered schema packs",
	}

	c.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List packs and their content hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			packs, _, err := opts.load()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTANDARD\tDICTIONARY\tCONTENT HASH")
			for _, s := range packs.List() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.StandardVersion, s.DictionaryIdentifier, s.ContentHash)
			}
			return tw.Flush()
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "show <pack-id>",
		Short: "Print a pack definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			packs, _, err := opts.load()
			if err != nil {
				return err
			}
			p, err := packs.Get(args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), "", p)
		},
	})

	c.AddCommand(&cobra.Command{
		Use:   "enum <pack-id> <enum-name>",
		Short: "Print the allowed values of an enumeration",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			packs, _, err := opts.load()
			if err != nil {
				return err
			}
			values, err := packs.Enum(args[0], args[1])
			if err != nil {
				return err
			}
			for _, v := range values {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	})
	return c
}
