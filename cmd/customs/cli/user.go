package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/customsops/customs/internal/config"
	"github.com/customsops/customs/internal/model"
	"github.com/customsops/customs/internal/rbac"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage directory users",
		Long:  "Create, list, enable, disable and re-role local accounts that sign in with a password.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserEnabledCmd("enable", true))
	cmd.AddCommand(newUserEnabledCmd("disable", false))
	cmd.AddCommand(newUserSetRolesCmd())
	cmd.AddCommand(newUserPasswdCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		username string
		email    string
		fullName string
		password string
		roles    []string
		disabled bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new user",
		Example: `  customs user create --username jane.doe --email jane.doe@customs.gov --role CARGO_INSPECTOR
  customs user create --username ops --email ops@customs.gov --role ADMIN --password secret123`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.Contains(email, "@") {
				return fmt.Errorf("invalid email address: %q", email)
			}
			if password == "" {
				pw, err := promptPassword(true)
				if err != nil {
					return err
				}
				password = pw
			}
			hash, err := rbac.HashPassword(password)
			if err != nil {
				return err
			}

			return withStore(cmd.Context(), func(ctx context.Context, store *config.Store) error {
				u := &model.User{
					Username:     username,
					Email:        email,
					FullName:     fullName,
					PasswordHash: hash,
					Enabled:      !disabled,
				}
				if err := store.CreateUser(ctx, u, upper(roles)); err != nil {
					return fmt.Errorf("create user: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created user %q (id=%d)\n", u.Username, u.ID)
				if len(roles) > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "  roles: %s\n", strings.Join(upper(roles), ", "))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "Login name (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&fullName, "full-name", "", "Display name")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to grant (repeatable)")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "Create the account disabled")
	cmd.MarkFlagRequired("username")
	cmd.MarkFlagRequired("email")

	return cmd
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *config.Store) error {
				users, err := store.ListUsers(ctx)
				if err != nil {
					return fmt.Errorf("list users: %w", err)
				}

				out := cmd.OutOrStdout()
				if jsonOutput {
					return printJSON(out, users)
				}
				if len(users) == 0 {
					fmt.Fprintln(out, "No users configured. Use 'customs user create' to create one.")
					return nil
				}

				fmt.Fprintf(out, "%-20s %-30s %-8s %-20s %s\n", "USERNAME", "EMAIL", "ENABLED", "LAST LOGIN", "ROLES")
				fmt.Fprintf(out, "%-20s %-30s %-8s %-20s %s\n", "--------", "-----", "-------", "----------", "-----")
				for _, u := range users {
					last := "never"
					if u.LastLoginAt != nil {
						last = u.LastLoginAt.UTC().Format("2006-01-02 15:04")
					}
					fmt.Fprintf(out, "%-20s %-30s %-8s %-20s %s\n",
						u.Username, u.Email, yesNo(u.Enabled), last, strings.Join(u.RoleNames(), ","))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- user enable / disable ----------

func newUserEnabledCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *config.Store) error {
				if err := store.SetUserEnabled(ctx, args[0], enabled); err != nil {
					return fmt.Errorf("%s user %s: %w", use, args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %q %sd\n", args[0], use)
				return nil
			})
		},
	}
}

// ---------- user set-roles ----------

func newUserSetRolesCmd() *cobra.Command {
	var roles []string

	cmd := &cobra.Command{
		Use:     "set-roles <username>",
		Short:   "Replace a user's roles",
		Example: `  customs user set-roles john.smith --role CUSTOMS_OFFICER --role SUPERVISOR`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, store *config.Store) error {
				if err := store.SetUserRoles(ctx, args[0], upper(roles)); err != nil {
					return fmt.Errorf("set roles for %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %q now has roles: %s\n", args[0], strings.Join(upper(roles), ", "))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&roles, "role", nil, "Role to grant (repeatable); none clears all roles")

	return cmd
}

// ---------- user passwd ----------

func newUserPasswdCmd() *cobra.Command {
	var password string

	cmd := &cobra.Command{
		Use:   "passwd <username>",
		Short: "Set a user's password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				pw, err := promptPassword(true)
				if err != nil {
					return err
				}
				password = pw
			}
			hash, err := rbac.HashPassword(password)
			if err != nil {
				return err
			}
			return withStore(cmd.Context(), func(ctx context.Context, store *config.Store) error {
				if err := store.SetUserPassword(ctx, args[0], hash); err != nil {
					return fmt.Errorf("set password for %s: %w", args[0], err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Password updated for %q\n", args[0])
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&password, "password", "", "New password (prompted if omitted)")

	return cmd
}

// promptPassword reads a password from the terminal without echo.
func promptPassword(confirm bool) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("no terminal to prompt on; pass --password")
	}

	fmt.Print("Password: ")
	pwBytes, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if !confirm {
		return string(pwBytes), nil
	}

	fmt.Print("Confirm password: ")
	confirmBytes, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	if string(pwBytes) != string(confirmBytes) {
		return "", errors.New("passwords do not match")
	}
	return string(pwBytes), nil
}

// upper returns names upper-cased and trimmed, dropping empties.
func upper(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.ToUpper(strings.TrimSpace(n)); n != "" {
			out = append(out, n)
		}
	}
	return out
}
