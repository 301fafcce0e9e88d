package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pulsemetrics/pulse/internal/openapi"
)

func newOpenAPICmd() *cobra.Command {
	var (
		baseURL    string
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "openapi",
		Short: "Generate the OpenAPI specification",
		Long: `Generate the OpenAPI 3.1 description of the Pulse HTTP API: every route, its
authentication scheme, parameters, and request and response schemas.`,
		Example: `  pulse openapi
  pulse openapi --base-url https://pulse.example.com -o openapi.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := openapi.JSON(baseURL, versionString())
			if err != nil {
				return fmt.Errorf("generate openapi: %w", err)
			}
			if outputFile == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(outputFile, data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", outputFile, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outputFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&baseURL, "base-url", "http://localhost:8080", "Server URL advertised in the document")
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the document to a file instead of stdout")

	return cmd
}
