package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pulsemetrics/pulse/internal/cache"
	"github.com/pulsemetrics/pulse/internal/server"
	"github.com/pulsemetrics/pulse/internal/service"
	"github.com/pulsemetrics/pulse/internal/telemetry"
)

const banner = `
 ____  _   _ _     ____  _____
|  _ \| | | | |   / ___|| ____|
| |_) | | | | |   \___ \|  _|
|  __/| |_| | |___ ___) | |___
|_|    \___/|_____|____/|_____|
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Pulse API server",
		Long:  "Start the HTTP server that ingests request metrics and serves the analytics API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	if cfg.GeneratedSecret {
		logger.Warn("security.secret_key not set; using a generated key, sessions and API keys will not survive a restart")
	}

	fmt.Print(banner)
	fmt.Println()

	tel := telemetry.New(prometheus.DefaultRegisterer)

	var aggCache service.AggregateCache
	if cfg.Cache.Enabled {
		rc := cache.NewRedisCache(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB, cfg.Cache.TTL)
		defer rc.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := rc.Ping(ctx); err != nil {
			logger.Warn("aggregate cache unreachable, queries will hit the database until it recovers",
				"addr", cfg.Cache.RedisAddr, "error", err)
		} else {
			logger.Info("aggregate cache connected", "addr", cfg.Cache.RedisAddr, "ttl", cfg.Cache.TTL)
		}
		cancel()
		aggCache = rc
	}

	a, err := newApp(cfg, logger, tel, aggCache)
	if err != nil {
		return err
	}
	logger.Info("database ready", "driver", a.store.Driver())

	srv := server.New(cfg, server.Deps{
		Store:    a.store,
		Auth:     a.auth,
		Projects: a.projects,
		Keys:     a.keys,
		Metrics:  a.metrics,
		Sweeper:  a.sweeper,
		Gatherer: prometheus.DefaultGatherer,
		Version:  versionString(),
	}, logger)

	display := cfg.Server.Host
	if display == "0.0.0.0" || display == "" {
		display = "localhost"
	}
	fmt.Printf("→ Pulse %s (%s)\n", versionString(), cfg.Environment)
	fmt.Printf("→ Listening on http://%s:%d\n", display, cfg.Server.Port)
	fmt.Printf("→ API:        http://%s:%d/api/v1\n", display, cfg.Server.Port)
	fmt.Printf("→ OpenAPI:    http://%s:%d/openapi.json\n", display, cfg.Server.Port)
	fmt.Printf("→ Health:     http://%s:%d/health\n", display, cfg.Server.Port)
	fmt.Printf("→ Metrics:    http://%s:%d/metrics\n", display, cfg.Server.Port)
	fmt.Printf("→ Retention:  %d days\n", cfg.Metrics.RetentionDays)
	fmt.Println()

	return srv.ListenAndServe()
}
