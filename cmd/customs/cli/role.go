package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/customsops/customs/internal/config"
)

func newRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage RBAC roles",
		Long:  "List roles and replace the authorities bundled into a role.",
	}

	cmd.AddCommand(newRoleListCmd())
	cmd.AddCommand(newRoleSetAuthoritiesCmd())

	return cmd
}

// ---------- role list ----------

func newRoleListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all roles with their authorities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *config.Store) error {
				roles, err := store.ListRoles(ctx)
				if err != nil {
					return fmt.Errorf("list roles: %w", err)
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, roles)
				}

				fmt.Fprintf(out, "%-20s %-28s %s\n", "NAME", "DESCRIPTION", "AUTHORITIES")
				fmt.Fprintf(out, "%-20s %-28s %s\n", "----", "-----------", "-----------")
				for _, r := range roles {
					desc := r.Description
					if len(desc) > 26 {
						desc = desc[:23] + "..."
					}
					fmt.Fprintf(out, "%-20s %-28s %s\n", r.Name, desc, formatAuthorities(r.Authorities))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// formatAuthorities returns a short summary of a role's authorities for
// display.
func formatAuthorities(names []string) string {
	switch {
	case len(names) == 0:
		return "none"
	case len(names) > 4:
		return fmt.Sprintf("%d authorities: %s, ...", len(names), strings.Join(names[:4], ", "))
	default:
		return strings.Join(names, ", ")
	}
}

// ---------- role set-authorities ----------

func newRoleSetAuthoritiesCmd() *cobra.Command {
	var names []string

	cmd := &cobra.Command{
		Use:     "set-authorities <role>",
		Short:   "Replace the authorities granted by a role",
		Example: `  customs role set-authorities SUPERVISOR --authority READ_CARGO --authority VIEW_REPORTS`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role := strings.ToUpper(args[0])
			return withStore(cmd.Context(), func(ctx context.Context, store *config.Store) error {
				if err := store.SetRoleAuthorities(ctx, role, upper(names)); err != nil {
					return fmt.Errorf("set authorities for %s: %w", role, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Role %q now grants %d authorities\n", role, len(upper(names)))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&names, "authority", nil, "Authority to grant (repeatable); none clears the role")

	return cmd
}
