// @title           changetrail API
// @version         1.0.0
// @description     Change-audit trail service: authenticated event ingest plus an admin API for browsing, exporting, and pruning the log.
// @basePath        /
// @schemes         http https
// @securityDefinitions.apiKey  Bearer
// @in                          header
// @name                        Authorization
// @description                 "Session JWT or service token: 'Bearer {token}'"
//
// @tag.name         System
// @tag.description  Health and version endpoints.
//
// @tag.name         Events
// @tag.description  Change-event ingest endpoints for external sources.
//
// @tag.name         Logs
// @tag.description  Admin log browsing, CSV export, bulk delete, and retention cleanup. Prometheus metrics are served on a dedicated side-channel port (default 9090, CTL_TELEMETRY_PROMETHEUS_PORT) at GET /metrics, outside the Gin router and its rate limiting.

// Package main is the entry point for the changetrail server binary. It
// dispatches four subcommands — serve, migrate, token, and version — via a
// simple switch on os.Args so the binary's full CLI surface is readable in
// one place without requiring a cobra dependency. The serve command runs
// auto-migration on startup so freshly deployed containers never need a
// separate migration step.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/changetrail/changetrail/internal/api"
	"github.com/changetrail/changetrail/internal/auth"
	"github.com/changetrail/changetrail/internal/config"
	"github.com/changetrail/changetrail/internal/db"
	"github.com/changetrail/changetrail/internal/db/models"
	"github.com/changetrail/changetrail/internal/safego"
	"github.com/changetrail/changetrail/internal/telemetry"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "token":
		return tokenCommand(cfg, os.Args[2:])
	case "version":
		fmt.Printf("changetrail v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, token, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logging as early as possible so all subsequent
	// output uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Validate the token signing secret (fails in production if not set).
	if err := auth.ValidateTokenSecret(); err != nil {
		return fmt.Errorf("security configuration error: %w", err)
	}

	if cfg.Auth.ServiceTokenHash == "" {
		slog.Warn("auth.service_token_hash is not configured; event ingest will reject machine sources",
			"hint", "generate one with: changetrail token service")
	}

	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database)

	// Run migrations automatically on startup.
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if v, dirty, err := db.GetMigrationVersion(database); err != nil {
		slog.Warn("failed to get migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", v, "dirty", dirty)
	}

	// Serve Prometheus metrics on a dedicated port so the scrape path is not
	// reachable through the public API ingress and skips the rate limiter.
	if cfg.Telemetry.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.PrometheusPort)
		safego.GoNamed("metrics-server", func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	router, bgServices := api.NewRouter(cfg, database)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	safego.GoNamed("http-server", func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(),
			"retention_days", cfg.Retention.Days, "page_size", cfg.Export.PageSize)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Graceful shutdown with timeout; drain in-flight requests before the
	// background jobs stop.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	bgServices.Shutdown()

	slog.Info("server stopped gracefully")
	return nil
}

// tokenCommand handles credential minting:
//
//	token service              generate a service token and its bcrypt hash
//	token session <id> <login> mint a session JWT for an admin user
//
// The service form prints the raw token once (hand it to the event source)
// and the hash to put in auth.service_token_hash. The session form needs
// CTL_TOKEN_SECRET set to the server's secret.
func tokenCommand(cfg *config.Config, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: token <service | session <user-id> <login>>")
	}

	switch args[0] {
	case "service":
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return fmt.Errorf("failed to generate service token: %w", err)
		}
		token := "ctl_" + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(raw)

		hash, err := auth.HashServiceToken(token)
		if err != nil {
			return fmt.Errorf("failed to hash service token: %w", err)
		}

		fmt.Printf("Service token (give to the event source, shown only once):\n  %s\n\n", token)
		fmt.Printf("Configuration value for auth.service_token_hash (CTL_AUTH_SERVICE_TOKEN_HASH):\n  %s\n", hash)
		return nil

	case "session":
		if len(args) < 3 {
			return fmt.Errorf("usage: token session <user-id> <login>")
		}
		userID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user id %q: %w", args[1], err)
		}

		if err := auth.ValidateTokenSecret(); err != nil {
			return fmt.Errorf("security configuration error: %w", err)
		}
		token, err := auth.GenerateSessionToken(models.Actor{ID: userID, Login: args[2]}, cfg.Auth.SessionTTL)
		if err != nil {
			return fmt.Errorf("failed to generate session token: %w", err)
		}
		fmt.Println(token)
		return nil

	default:
		return fmt.Errorf("unknown token kind: %s (want service or session)", args[0])
	}
}

func runMigrations(cfg *config.Config, direction string) error {
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	v, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", v, dirty)
	return nil
}
