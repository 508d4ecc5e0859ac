package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/customsops/customs/internal/authority"
)

func newAuthorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authority",
		Short: "Inspect the authority catalog",
	}

	cmd.AddCommand(newAuthorityListCmd())

	return cmd
}

func newAuthorityListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every authority with its category",
		RunE: func(cmd *cobra.Command, args []string) error {
			defs := authority.Catalog()
			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, defs)
			}

			fmt.Fprintf(out, "%-18s %-24s %s\n", "NAME", "CATEGORY", "DESCRIPTION")
			fmt.Fprintf(out, "%-18s %-24s %s\n", "----", "--------", "-----------")
			for _, d := range defs {
				fmt.Fprintf(out, "%-18s %-24s %s\n", d.Name, d.Category, d.Description)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
