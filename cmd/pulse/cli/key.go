package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pulsemetrics/pulse/internal/model"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage project API keys",
		Long:    "Create, list, rotate, revoke, and delete the API keys client services use to report metrics.",
	}

	cmd.PersistentFlags().String("user", "", "Project owner email (required)")
	cmd.MarkPersistentFlagRequired("user")

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyDeleteCmd())

	return cmd
}

// keyProject opens the app and resolves the project named by args[0] for
// the --user flag.
func keyProject(cmd *cobra.Command, args []string) (*app, *model.Project, error) {
	a, err := openApp(cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, err
	}
	user, _ := cmd.Flags().GetString("user")
	p, err := a.project(context.Background(), user, args[0])
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	return a, p, nil
}

func printIssuedKey(out io.Writer, heading string, k *model.IssuedAPIKey) {
	fmt.Fprintln(out, heading)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  ID:      %s\n", k.ID)
	fmt.Fprintf(out, "  Key:     %s\n", k.Key)
	if k.Name != "" {
		fmt.Fprintf(out, "  Name:    %s\n", k.Name)
	}
	if k.ExpiresAt != nil {
		fmt.Fprintf(out, "  Expires: %s\n", k.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		name       string
		expiresIn  int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "create <project-key>",
		Short: "Create a new API key",
		Long: `Generate a new API key for a project. The raw key is shown once and cannot be
retrieved again. Without --expires-in the configured default expiry applies.`,
		Example: `  pulse key create shop-1a2b3c4d --user ops@example.com --name "CI pipeline"
  pulse key create shop-1a2b3c4d --user ops@example.com --expires-in 7`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, p, err := keyProject(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.requireSecret(); err != nil {
				return err
			}
			var expiresAt *time.Time
			if expiresIn > 0 {
				t := time.Now().UTC().Add(time.Duration(expiresIn) * 24 * time.Hour)
				expiresAt = &t
			}
			issued, err := a.keys.Create(context.Background(), p.ID, name, expiresAt)
			if err != nil {
				return userError(err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), issued)
			}
			printIssuedKey(cmd.OutOrStdout(), "API key created:", issued)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable name for the key")
	cmd.Flags().IntVar(&expiresIn, "expires-in", 0, "Days until the key expires (0 uses the configured default)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list <project-key>",
		Aliases: []string{"ls"},
		Short:   "List a project's API keys",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, p, err := keyProject(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			keys, err := a.keys.List(context.Background(), p.ID)
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, keys)
			}
			fmt.Fprintf(out, "%-36s  %-22s  %-20s  %-6s  %-10s  %s\n", "ID", "PREFIX", "NAME", "ACTIVE", "EXPIRES", "REQUESTS")
			now := time.Now()
			for _, k := range keys {
				expires := "never"
				if k.ExpiresAt != nil {
					expires = k.ExpiresAt.Format("2006-01-02")
					if model.KeyIsExpired(k, now) {
						expires = "expired"
					}
				}
				fmt.Fprintf(out, "%-36s  %-22s  %-20s  %-6s  %-10s  %d\n",
					k.ID, k.KeyPrefix, k.Name, yesNo(k.IsActive), expires, k.TotalRequests)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "rotate <project-key> <key-id>",
		Short: "Replace an API key with a new one",
		Long:  "Deactivate an API key and issue its replacement in one step.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, p, err := keyProject(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.requireSecret(); err != nil {
				return err
			}
			issued, err := a.keys.Rotate(context.Background(), p.ID, args[1])
			if err != nil {
				return userError(err)
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), issued)
			}
			printIssuedKey(cmd.OutOrStdout(), "API key rotated:", issued)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <project-key> <key-id>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key, preventing any further ingestion with it. The key record is kept.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, p, err := keyProject(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.keys.Revoke(context.Background(), p.ID, args[1]); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %s\n", args[1])
			return nil
		},
	}
}

// ---------- key delete ----------

func newKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-key> <key-id>",
		Short: "Delete an API key",
		Long:  "Delete an API key record. The last active key of a project cannot be deleted.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, p, err := keyProject(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.keys.Delete(context.Background(), p.ID, args[1]); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted API key %s\n", args[1])
			return nil
		},
	}
}
