package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Manage projects",
		Long:  "Create, list, and delete the projects that client services report metrics to.",
	}

	cmd.AddCommand(newProjectCreateCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectDeleteCmd())

	return cmd
}

// ---------- project create ----------

func newProjectCreateCmd() *cobra.Command {
	var (
		user        string
		name        string
		description string
		jsonOutput  bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and its first API key",
		Long:  "Create a project owned by --user. The first API key is shown once and cannot be retrieved again.",
		Example: `  pulse project create --user ops@example.com --name "Checkout API"
  pulse project create --user ops@example.com --name shop --description "storefront" --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.requireSecret(); err != nil {
				return err
			}
			ctx := context.Background()
			owner, err := a.userByEmail(ctx, user)
			if err != nil {
				return err
			}
			created, err := a.projects.Create(ctx, owner.ID, name, description)
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, created)
			}
			fmt.Fprintln(out, "Project created:")
			fmt.Fprintln(out)
			fmt.Fprintf(out, "  Name:        %s\n", created.Name)
			fmt.Fprintf(out, "  Project key: %s\n", created.ProjectKey)
			fmt.Fprintf(out, "  API key:     %s\n", created.APIKey.Key)
			if created.APIKey.ExpiresAt != nil {
				fmt.Fprintf(out, "  Expires:     %s\n", created.APIKey.ExpiresAt.Format("2006-01-02"))
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owner email (required)")
	cmd.Flags().StringVar(&name, "name", "", "Project name (required)")
	cmd.Flags().StringVar(&description, "description", "", "Project description")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

// ---------- project list ----------

func newProjectListCmd() *cobra.Command {
	var (
		user       string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List a user's projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			owner, err := a.userByEmail(ctx, user)
			if err != nil {
				return err
			}
			projects, err := a.projects.List(ctx, owner.ID)
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, projects)
			}
			if len(projects) == 0 {
				fmt.Fprintln(out, "No projects yet. Use 'pulse project create' to create one.")
				return nil
			}
			fmt.Fprintf(out, "%-40s  %-24s  %-6s  %s\n", "PROJECT KEY", "NAME", "ACTIVE", "DESCRIPTION")
			for _, p := range projects {
				fmt.Fprintf(out, "%-40s  %-24s  %-6s  %s\n", p.ProjectKey, p.Name, yesNo(p.IsActive), p.Description)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owner email (required)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.MarkFlagRequired("user")

	return cmd
}

// ---------- project delete ----------

func newProjectDeleteCmd() *cobra.Command {
	var user string

	cmd := &cobra.Command{
		Use:   "delete <project-key>",
		Short: "Delete a project with its API keys and metrics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := context.Background()
			owner, err := a.userByEmail(ctx, user)
			if err != nil {
				return err
			}
			if err := a.projects.Delete(ctx, owner.ID, args[0]); err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Owner email (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}
