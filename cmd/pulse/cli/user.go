package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long:  "Create, list, and deactivate the accounts that own projects.",
	}

	cmd.AddCommand(newUserCreateCmd())
	cmd.AddCommand(newUserListCmd())
	cmd.AddCommand(newUserDeactivateCmd())

	return cmd
}

// ---------- user create ----------

func newUserCreateCmd() *cobra.Command {
	var (
		email    string
		name     string
		password string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		Long:  "Create a user account. The password is prompted for when --password is omitted.",
		Example: `  pulse user create --email ops@example.com --name "Ops Team"
  pulse user create --email ci@example.com --password "$CI_PASSWORD"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				pw, err := promptPassword()
				if err != nil {
					return err
				}
				password = pw
			}
			return runUserCreate(cmd, email, name, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Full name")
	cmd.Flags().StringVar(&password, "password", "", "Password (prompted if omitted)")
	cmd.MarkFlagRequired("email")

	return cmd
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	fmt.Fprint(os.Stderr, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(os.Stderr)

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

func runUserCreate(cmd *cobra.Command, email, name, password string) error {
	a, err := openApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	u, err := a.auth.Register(context.Background(), email, password, name)
	if err != nil {
		return userError(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "User created:")
	fmt.Fprintf(out, "  ID:    %s\n", u.ID)
	fmt.Fprintf(out, "  Email: %s\n", u.Email)
	if u.FullName != "" {
		fmt.Fprintf(out, "  Name:  %s\n", u.FullName)
	}
	return nil
}

// ---------- user list ----------

func newUserListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List user accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUserList(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runUserList(cmd *cobra.Command, jsonOutput bool) error {
	a, err := openApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	users, err := a.auth.ListUsers(context.Background())
	if err != nil {
		return userError(err)
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return printJSON(out, users)
	}
	if len(users) == 0 {
		fmt.Fprintln(out, "No users yet. Use 'pulse user create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-36s  %-32s  %-20s  %-6s  %s\n", "ID", "EMAIL", "NAME", "ACTIVE", "CREATED")
	for _, u := range users {
		fmt.Fprintf(out, "%-36s  %-32s  %-20s  %-6s  %s\n",
			u.ID, u.Email, u.FullName, yesNo(u.IsActive), u.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// ---------- user deactivate ----------

func newUserDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate <email>",
		Short: "Deactivate a user account",
		Long:  "Deactivate a user. Their sessions stop working immediately; projects and metrics are kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			u, err := a.userByEmail(ctx, args[0])
			if err != nil {
				return err
			}
			if err := a.auth.DeactivateUser(ctx, u.ID); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deactivated %s\n", u.Email)
			return nil
		},
	}
}
