package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newStatusCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if the Pulse server is running",
		Long:  "Query the server's /health endpoint and report its status and database connectivity.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if url == "" {
				url = defaultHealthURL()
			}
			return runStatus(cmd, url)
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Health endpoint (default derived from server.host and server.port)")

	return cmd
}

func defaultHealthURL() string {
	port := viper.GetInt("server.port")
	if port == 0 {
		port = 8080
	}
	host := viper.GetString("server.host")
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/health", host, port)
}

func runStatus(cmd *cobra.Command, url string) error {
	out := cmd.OutOrStdout()

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(out, "Server is not responding at %s\n", url)
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status         string `json:"status"`
		DatabaseStatus string `json:"database_status"`
		Environment    string `json:"environment"`
		Timestamp      string `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("decode health response: %w", err)
	}

	fmt.Fprintf(out, "Server is %s (%d)\n", health.Status, resp.StatusCode)
	fmt.Fprintf(out, "  Health:      %s\n", url)
	fmt.Fprintf(out, "  Database:    %s\n", health.DatabaseStatus)
	fmt.Fprintf(out, "  Environment: %s\n", health.Environment)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy: database %s", health.DatabaseStatus)
	}
	return nil
}
