// Package admin implements the authenticated administration surface: log
// browsing, facet listing, and the token-armed destructive operations
// (export, bulk delete, manual cleanup).
package admin

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/changetrail/changetrail/internal/auth"
	"github.com/changetrail/changetrail/internal/db/repositories"
	"github.com/changetrail/changetrail/internal/export"
	"github.com/changetrail/changetrail/internal/jobs"
	"github.com/changetrail/changetrail/internal/middleware"
	"github.com/changetrail/changetrail/internal/telemetry"
)

// LogsHandler serves the admin log operations.
type LogsHandler struct {
	repo      *repositories.LogRepository
	exporter  *export.Exporter
	retention *jobs.RetentionJob
	tokens    *auth.ActionTokenIssuer
	pageSize  int
}

func NewLogsHandler(
	repo *repositories.LogRepository,
	exporter *export.Exporter,
	retention *jobs.RetentionJob,
	tokens *auth.ActionTokenIssuer,
	pageSize int,
) *LogsHandler {
	return &LogsHandler{
		repo:      repo,
		exporter:  exporter,
		retention: retention,
		tokens:    tokens,
		pageSize:  pageSize,
	}
}

// filtersFromQuery builds LogFilters from the request query string.
// Malformed values degrade to absent criteria rather than erroring, matching
// the criteria builder's own treatment of bad dates.
func filtersFromQuery(c *gin.Context) repositories.LogFilters {
	userID, _ := strconv.ParseInt(c.Query("user_id"), 10, 64)
	return repositories.LogFilters{
		ActionType: c.Query("action_type"),
		ObjectType: c.Query("object_type"),
		UserID:     userID,
		Search:     c.Query("search"),
		DateFrom:   c.Query("date_from"),
		DateTo:     c.Query("date_to"),
	}
}

// @Summary      List log entries
// @Description  Returns a page of log entries, newest first, filtered by the query criteria.
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Param        action_type  query  string  false  "Action type filter"
// @Param        object_type  query  string  false  "Object type filter"
// @Param        user_id      query  int     false  "Actor user ID filter"
// @Param        search       query  string  false  "Substring match on description and object name"
// @Param        date_from    query  string  false  "Inclusive start date (YYYY-MM-DD)"
// @Param        date_to      query  string  false  "Inclusive end date (YYYY-MM-DD)"
// @Param        page         query  int     false  "Page number, 1-based"
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /api/v1/admin/logs [get]
func (h *LogsHandler) ListLogs(c *gin.Context) {
	ctx := c.Request.Context()
	filters := filtersFromQuery(c)

	page, _ := strconv.Atoi(c.Query("page"))
	if page < 1 {
		page = 1
	}

	total, err := h.repo.CountLogs(ctx, filters)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to count log entries"})
		return
	}

	logs, err := h.repo.ListLogs(ctx, filters, h.pageSize, (page-1)*h.pageSize)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list log entries"})
		return
	}

	totalPages := int((total + int64(h.pageSize) - 1) / int64(h.pageSize))
	c.JSON(http.StatusOK, gin.H{
		"logs":        logs,
		"total":       total,
		"page":        page,
		"per_page":    h.pageSize,
		"total_pages": totalPages,
	})
}

// @Summary      List filter facets
// @Description  Returns the distinct action types, object types, and actors present in the log, for building filter dropdowns.
// @Tags         Logs
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      500  {object}  map[string]interface{}
// @Router       /api/v1/admin/logs/facets [get]
func (h *LogsHandler) GetFacets(c *gin.Context) {
	ctx := c.Request.Context()

	actionTypes, err := h.repo.DistinctActionTypes(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load facets"})
		return
	}
	objectTypes, err := h.repo.DistinctObjectTypes(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load facets"})
		return
	}
	actors, err := h.repo.ListActors(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load facets"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"action_types": actionTypes,
		"object_types": objectTypes,
		"actors":       actors,
	})
}

type tokenRequest struct {
	Action string `json:"action" binding:"required"`
}

// @Summary      Issue an action token
// @Description  Mints a fresh single-use token for one destructive operation (logs.export, logs.delete, logs.cleanup). Each operation attempt needs its own token.
// @Tags         Logs
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "token and expiry"
// @Failure      400  {object}  map[string]interface{}  "Unknown action"
// @Router       /api/v1/admin/logs/tokens [post]
func (h *LogsHandler) IssueActionToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action is required"})
		return
	}

	switch req.Action {
	case auth.ActionExport, auth.ActionDelete, auth.ActionCleanup:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be logs.export, logs.delete, or logs.cleanup"})
		return
	}

	actor := middleware.ActorFromContext(c)
	if actor == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "No authenticated user"})
		return
	}

	token, err := h.tokens.Issue(*actor, req.Action)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "action": req.Action})
}

// redeemActionToken consumes the action token from the request (query param
// for GET export, JSON body otherwise handled by callers) and writes the
// error response itself on failure.
func (h *LogsHandler) redeemActionToken(c *gin.Context, token, action string) bool {
	if token == "" {
		c.JSON(http.StatusForbidden, gin.H{"error": "Action token required"})
		return false
	}
	if _, err := h.tokens.Redeem(token, action); err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenReplayed):
			c.JSON(http.StatusForbidden, gin.H{"error": "Action token already used; request a new one"})
		case errors.Is(err, auth.ErrActionMismatch):
			c.JSON(http.StatusForbidden, gin.H{"error": "Action token does not authorize this operation"})
		default:
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid or expired action token"})
		}
		return false
	}
	return true
}

// @Summary      Export log entries as CSV
// @Description  Streams the filtered entries as UTF-8 CSV. Requires a logs.export action token in the token query parameter.
// @Tags         Logs
// @Security     Bearer
// @Produce      text/csv
// @Success      200  {string}  string  "CSV stream"
// @Failure      403  {object}  map[string]interface{}  "Missing, used, or mismatched action token"
// @Failure      404  {object}  map[string]interface{}  "No entries match the filters"
// @Failure      413  {object}  map[string]interface{}  "Too many entries; narrow the filters"
// @Router       /api/v1/admin/logs/export [get]
func (h *LogsHandler) ExportLogs(c *gin.Context) {
	if !h.redeemActionToken(c, c.Query("token"), auth.ActionExport) {
		return
	}

	filters := filtersFromQuery(c)
	filename := fmt.Sprintf("change-log-%s.csv", time.Now().UTC().Format("2006-01-02-150405"))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	if _, err := h.exporter.Write(c.Request.Context(), c.Writer, filters); err != nil {
		switch {
		case errors.Is(err, export.ErrNoRows):
			// Nothing has been written yet, the status is still ours to set.
			c.Header("Content-Type", "application/json; charset=utf-8")
			c.Header("Content-Disposition", "")
			c.JSON(http.StatusNotFound, gin.H{"error": "No log entries to export"})
		case errors.Is(err, export.ErrTooManyRows):
			c.Header("Content-Type", "application/json; charset=utf-8")
			c.Header("Content-Disposition", "")
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Too many entries to export; narrow the filters or rely on retention",
			})
		default:
			// Mid-stream failure: headers are gone, the truncated body is the
			// only signal the client gets.
			c.Abort()
		}
		return
	}
	c.Writer.Flush()
}

type deleteRequest struct {
	Token      string `json:"token" binding:"required"`
	ActionType string `json:"action_type"`
	ObjectType string `json:"object_type"`
	UserID     int64  `json:"user_id"`
	Search     string `json:"search"`
	DateFrom   string `json:"date_from"`
	DateTo     string `json:"date_to"`
}

// @Summary      Bulk delete log entries
// @Description  Deletes the entries matching the given filters. Requires a logs.delete action token. A request with no effective criteria is refused; matching zero rows is a success.
// @Tags         Logs
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "deleted count"
// @Failure      400  {object}  map[string]interface{}  "No filter criteria"
// @Failure      403  {object}  map[string]interface{}  "Missing, used, or mismatched action token"
// @Router       /api/v1/admin/logs/delete [post]
func (h *LogsHandler) DeleteLogs(c *gin.Context) {
	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	if !h.redeemActionToken(c, req.Token, auth.ActionDelete) {
		return
	}

	filters := repositories.LogFilters{
		ActionType: req.ActionType,
		ObjectType: req.ObjectType,
		UserID:     req.UserID,
		Search:     req.Search,
		DateFrom:   req.DateFrom,
		DateTo:     req.DateTo,
	}

	deleted, err := h.repo.DeleteLogs(c.Request.Context(), filters)
	if err != nil {
		if errors.Is(err, repositories.ErrUnfilteredDelete) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Refusing to delete without filter criteria; use cleanup or narrow the request",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete log entries"})
		return
	}

	telemetry.BulkDeletedTotal.Add(float64(deleted))
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

type cleanupRequest struct {
	Token string `json:"token" binding:"required"`
}

// @Summary      Run retention cleanup now
// @Description  Runs one retention sweep immediately, attributed to the requesting admin. Requires a logs.cleanup action token.
// @Tags         Logs
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "deleted count"
// @Failure      403  {object}  map[string]interface{}  "Missing, used, or mismatched action token"
// @Router       /api/v1/admin/logs/cleanup [post]
func (h *LogsHandler) RunCleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required"})
		return
	}
	if !h.redeemActionToken(c, req.Token, auth.ActionCleanup) {
		return
	}

	actor := middleware.ActorFromContext(c)
	deleted, err := h.retention.RunOnce(c.Request.Context(), actor, jobs.TriggerManual)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}
