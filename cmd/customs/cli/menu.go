package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/customsops/customs/internal/authority"
	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/menu"
	"github.com/customsops/customs/internal/rbac"
)

func newMenuCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "menu",
		Short: "Inspect the navigation menu",
	}

	cmd.AddCommand(newMenuPreviewCmd())

	return cmd
}

func newMenuPreviewCmd() *cobra.Command {
	var (
		names    []string
		username string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Show the menu items visible for an authority set or a user",
		Example: `  customs menu preview --authority READ_CARGO --authority INSPECT_CARGO
  customs menu preview --user jane.doe
  customs menu preview --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := menu.Validate(cfg.MenuItems()); err != nil {
				return err
			}
			engine := menu.NewEngine(cfg.MenuItems())
			out := cmd.OutOrStdout()

			if all {
				printMenu(out, engine.All())
				return nil
			}
			if username != "" {
				return withStore(cmd.Context(), func(ctx context.Context, store *config.Store) error {
					u, err := store.GetUserByUsername(ctx, username)
					if err != nil {
						return fmt.Errorf("load user %s: %w", username, err)
					}
					set := rbac.EffectiveAuthorities(u)
					fmt.Fprintf(out, "Authorities: %v\n\n", set.Names())
					printMenu(out, engine.VisibleItems(set))
					return nil
				})
			}

			set := authority.NewSet(upper(names)...)
			for _, n := range set.Names() {
				if !authority.Known(n) && !authority.IsRoleAuthority(n) {
					return fmt.Errorf("unknown authority: %s", n)
				}
			}
			printMenu(out, engine.VisibleItems(set))
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&names, "authority", nil, "Authority held by the caller (repeatable)")
	cmd.Flags().StringVar(&username, "user", "", "Preview for a directory user's effective authorities")
	cmd.Flags().BoolVar(&all, "all", false, "Show every menu item regardless of authority")
	cmd.MarkFlagsMutuallyExclusive("authority", "user", "all")

	return cmd
}

func printMenu(w io.Writer, items []menu.Item) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No menu items visible.")
		return
	}
	fmt.Fprintf(w, "%-18s %-22s %-20s %s\n", "ID", "LABEL", "PATH", "REQUIRES")
	fmt.Fprintf(w, "%-18s %-22s %-20s %s\n", "--", "-----", "----", "--------")
	for _, it := range items {
		req := it.RequiredAuthority
		if req == "" {
			req = "-"
		}
		fmt.Fprintf(w, "%-18s %-22s %-20s %s\n", it.ID, it.Label, it.Path, req)
	}
}
