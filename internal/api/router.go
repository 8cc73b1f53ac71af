// Package api wires together all HTTP routes for the changetrail service.
//
// Route grouping philosophy:
//   - Event ingest routes (/api/v1/events/) accept either an admin session
//     token or the shared machine service token. Event sources are external
//     systems posting changes as they happen; attribution comes from the
//     event payload, not the transport credential.
//   - Admin routes (/api/v1/admin/) require a session token. The destructive
//     operations (export, bulk delete, manual cleanup) additionally require a
//     single-use action token and run under a stricter rate limit.
//   - /healthz and /version are public for probes and tooling.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/changetrail/changetrail/internal/api/admin"
	"github.com/changetrail/changetrail/internal/api/events"
	"github.com/changetrail/changetrail/internal/auth"
	"github.com/changetrail/changetrail/internal/config"
	"github.com/changetrail/changetrail/internal/db/repositories"
	"github.com/changetrail/changetrail/internal/export"
	"github.com/changetrail/changetrail/internal/filter"
	"github.com/changetrail/changetrail/internal/jobs"
	"github.com/changetrail/changetrail/internal/middleware"
	"github.com/changetrail/changetrail/internal/recorder"
	"github.com/changetrail/changetrail/internal/shipper"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a termination
// signal.
type BackgroundServices struct {
	retentionJob *jobs.RetentionJob
	entryShipper *shipper.MultiShipper
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	if bg.entryShipper != nil {
		if err := bg.entryShipper.Close(); err != nil {
			slog.Warn("closing audit shipping", "error", err)
		}
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	sqlxDB := sqlx.NewDb(db, "postgres")
	logRepo := repositories.NewLogRepository(sqlxDB)

	// Optional forwarding of recorded entries to a SIEM webhook and/or file.
	entryShipper, err := shipper.New(cfg.Shipping)
	if err != nil {
		log.Fatalf("Failed to initialize audit shipping: %v", err)
	}

	var recorderOpts []recorder.Option
	if entryShipper.Active() {
		recorderOpts = append(recorderOpts, recorder.WithShipper(entryShipper))
	}
	rec := recorder.New(logRepo, recorderOpts...)
	optionFilter := filter.NewOptionFilter(&cfg.Audit)
	exporter := export.NewExporter(logRepo, cfg.Export.MaxRows, cfg.Export.ChunkSize)
	tokens := auth.NewActionTokenIssuer(cfg.Auth.ActionTokenTTL)

	// Retention sweep: first run at boot, then on the configured interval.
	retentionJob := jobs.NewRetentionJob(logRepo, rec,
		cfg.Retention.Days, time.Duration(cfg.Retention.CheckIntervalHours)*time.Hour)
	retentionJob.Start(context.Background())

	generalRateLimiter := middleware.NewRateLimiter(middleware.RateLimitConfig{
		RequestsPerMinute: cfg.Security.RateLimiting.RequestsPerMinute,
		BurstSize:         cfg.Security.RateLimiting.Burst,
		CleanupInterval:   5 * time.Minute,
	})
	destructiveRateLimiter := middleware.NewRateLimiter(middleware.DestructiveRateLimitConfig())

	// Middleware chain; see the package doc in internal/middleware for why
	// this order.
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders(middleware.APISecurityHeadersConfig()))
	if cfg.Security.RateLimiting.Enabled {
		router.Use(middleware.RateLimit(generalRateLimiter))
	}
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(LoggerMiddleware(cfg))

	// Health check endpoint
	router.GET("/healthz", healthCheckHandler(db))

	// API version
	router.GET("/version", versionHandler())

	eventsHandler := events.NewHandler(rec, optionFilter, cfg.Audit)
	logsHandler := admin.NewLogsHandler(logRepo, exporter, retentionJob, tokens, cfg.Export.PageSize)

	// Event ingest endpoints: session token or service token.
	eventsGroup := router.Group("/api/v1/events")
	eventsGroup.Use(middleware.RequireEventSource(cfg.Auth.ServiceTokenHash))
	{
		eventsGroup.POST("", eventsHandler.PostEvent)
		eventsGroup.POST("/option", eventsHandler.PostOptionEvent)
		eventsGroup.POST("/session", eventsHandler.PostSessionEvent)
	}

	// Admin endpoints: session token only.
	adminGroup := router.Group("/api/v1/admin")
	adminGroup.Use(middleware.RequireSession())
	{
		adminGroup.GET("/logs", logsHandler.ListLogs)
		adminGroup.GET("/logs/facets", logsHandler.GetFacets)
		adminGroup.POST("/logs/tokens", logsHandler.IssueActionToken)

		// Destructive operations carry their own stricter budget on top of
		// the general limiter.
		adminGroup.GET("/logs/export",
			middleware.RateLimit(destructiveRateLimiter), logsHandler.ExportLogs)
		adminGroup.POST("/logs/delete",
			middleware.RateLimit(destructiveRateLimiter), logsHandler.DeleteLogs)
		adminGroup.POST("/logs/cleanup",
			middleware.RateLimit(destructiveRateLimiter), logsHandler.RunCleanup)
	}

	bg := &BackgroundServices{
		retentionJob: retentionJob,
		entryShipper: entryShipper,
		rateLimiters: []*middleware.RateLimiter{generalRateLimiter, destructiveRateLimiter},
	}
	return router, bg
}

// @Summary      Health check
// @Description  Returns the health status of the service. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /healthz [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured request logging through slog. The
// output format (json/text) follows the global handler configured in
// telemetry.SetupLogger.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
