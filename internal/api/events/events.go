// Package events implements the ingest surface that change-event sources
// post to. Handlers validate minimally, consult the filter and category
// toggles, and hand accepted events to the recorder; a malformed or
// suppressed event never errors back to the source beyond a 4xx on
// structurally invalid payloads.
package events

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/changetrail/changetrail/internal/config"
	"github.com/changetrail/changetrail/internal/db/models"
	"github.com/changetrail/changetrail/internal/filter"
	"github.com/changetrail/changetrail/internal/recorder"
	"github.com/changetrail/changetrail/internal/telemetry"
)

// Handler receives change events from external sources.
type Handler struct {
	recorder *recorder.Recorder
	filter   *filter.OptionFilter
	audit    config.AuditConfig
}

func NewHandler(rec *recorder.Recorder, f *filter.OptionFilter, audit config.AuditConfig) *Handler {
	return &Handler{recorder: rec, filter: f, audit: audit}
}

// actorRef is the payload form of the acting user. Pointer fields so an
// absent actor is distinguishable from user id 0.
type actorRef struct {
	ID    *int64 `json:"id"`
	Login string `json:"login"`
}

func (a *actorRef) toModel() *models.Actor {
	if a == nil || a.ID == nil {
		return nil
	}
	return &models.Actor{ID: *a.ID, Login: a.Login}
}

// genericEvent is the payload for POST /api/v1/events. ActionType and
// ObjectType are open enumerations; only non-emptiness is enforced.
type genericEvent struct {
	Actor       *actorRef `json:"actor"`
	ActionType  string    `json:"action_type" binding:"required"`
	ObjectType  string    `json:"object_type" binding:"required"`
	ObjectID    int64     `json:"object_id"`
	ObjectName  string    `json:"object_name"`
	Description string    `json:"description"`
	OldValue    any       `json:"old_value"`
	NewValue    any       `json:"new_value"`
}

// categoryEnabled maps known object types onto their config toggles. Object
// types nobody anticipated pass through: integrators add categories without
// a service change, and an unknown type is recorded rather than lost.
func (h *Handler) categoryEnabled(objectType string) bool {
	switch objectType {
	case "option":
		return h.audit.LogOptionChanges
	case "post":
		return h.audit.LogPostChanges
	case "user":
		return h.audit.LogUserChanges
	case "plugin":
		return h.audit.LogPluginChanges
	case "theme":
		return h.audit.LogThemeChanges
	case "media":
		return h.audit.LogMediaChanges
	case "menu":
		return h.audit.LogMenuChanges
	case "widget":
		return h.audit.LogWidgetChanges
	default:
		return true
	}
}

// @Summary      Ingest a change event
// @Description  Records a generic change event. Events in disabled categories are acknowledged but not recorded.
// @Tags         Events
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      202  {object}  map[string]interface{}  "accepted; recorded: true|false"
// @Failure      400  {object}  map[string]interface{}  "Malformed payload"
// @Router       /api/v1/events [post]
func (h *Handler) PostEvent(c *gin.Context) {
	var ev genericEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action_type and object_type are required"})
		return
	}

	if !h.categoryEnabled(ev.ObjectType) {
		telemetry.EntriesSuppressedTotal.WithLabelValues("category").Inc()
		c.JSON(http.StatusAccepted, gin.H{"recorded": false, "reason": "category disabled"})
		return
	}

	h.recorder.Record(c.Request.Context(), ev.Actor.toModel(), c.Request, recorder.Event{
		ActionType:  ev.ActionType,
		ObjectType:  ev.ObjectType,
		ObjectID:    ev.ObjectID,
		ObjectName:  ev.ObjectName,
		Description: ev.Description,
		OldValue:    recorder.EncodeValue(ev.OldValue),
		NewValue:    recorder.EncodeValue(ev.NewValue),
	})
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

// optionEvent is the payload for POST /api/v1/events/option. The value
// asymmetry is meaningful: an add carries no old value and a delete carries
// neither, and that shape is preserved into storage.
type optionEvent struct {
	Actor    *actorRef `json:"actor"`
	Option   string    `json:"option" binding:"required"`
	Action   string    `json:"action" binding:"required"`
	OldValue any       `json:"old_value"`
	NewValue any       `json:"new_value"`
}

var optionActions = map[string]string{
	"added":   "created",
	"updated": "updated",
	"deleted": "deleted",
}

// @Summary      Ingest an option change
// @Description  Records a change to a named option, subject to the option filter (allowlist, exclusion patterns, role-definitions toggle).
// @Tags         Events
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      202  {object}  map[string]interface{}  "accepted; recorded: true|false"
// @Failure      400  {object}  map[string]interface{}  "Malformed payload or unknown action"
// @Router       /api/v1/events/option [post]
func (h *Handler) PostOptionEvent(c *gin.Context) {
	var ev optionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "option and action are required"})
		return
	}

	actionType, ok := optionActions[ev.Action]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "action must be added, updated, or deleted"})
		return
	}

	if !h.audit.LogOptionChanges {
		telemetry.EntriesSuppressedTotal.WithLabelValues("category").Inc()
		c.JSON(http.StatusAccepted, gin.H{"recorded": false, "reason": "category disabled"})
		return
	}

	oldValue := recorder.EncodeValue(ev.OldValue)
	newValue := recorder.EncodeValue(ev.NewValue)

	if !h.filter.ShouldRecord(ev.Option, oldValue, newValue) {
		telemetry.EntriesSuppressedTotal.WithLabelValues("filtered").Inc()
		c.JSON(http.StatusAccepted, gin.H{"recorded": false, "reason": "filtered"})
		return
	}

	h.recorder.Record(c.Request.Context(), ev.Actor.toModel(), c.Request, recorder.Event{
		ActionType:  actionType,
		ObjectType:  "option",
		ObjectName:  ev.Option,
		Description: fmt.Sprintf("Option %s: %s", ev.Action, ev.Option),
		OldValue:    oldValue,
		NewValue:    newValue,
	})
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}

// sessionEvent is the payload for POST /api/v1/events/session. Failed logins
// have no authenticated actor, only the attempted username.
type sessionEvent struct {
	Event    string    `json:"event" binding:"required"`
	Actor    *actorRef `json:"actor"`
	Username string    `json:"username"`
}

// @Summary      Ingest a session event
// @Description  Records login, logout, and failed-login events. These bypass the option filter; failed logins are recorded without an actor.
// @Tags         Events
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      202  {object}  map[string]interface{}  "accepted"
// @Failure      400  {object}  map[string]interface{}  "Malformed payload or unknown event"
// @Router       /api/v1/events/session [post]
func (h *Handler) PostSessionEvent(c *gin.Context) {
	var ev sessionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event is required"})
		return
	}

	actor := ev.Actor.toModel()
	username := ev.Username
	if username == "" && actor != nil {
		username = actor.Login
	}

	var rec recorder.Event
	switch ev.Event {
	case "login":
		rec = recorder.Event{
			ActionType:  "login",
			ObjectType:  "user",
			ObjectName:  username,
			Description: fmt.Sprintf("User logged in: %s", username),
		}
	case "logout":
		rec = recorder.Event{
			ActionType:  "logout",
			ObjectType:  "user",
			ObjectName:  username,
			Description: fmt.Sprintf("User logged out: %s", username),
		}
	case "login_failed":
		rec = recorder.Event{
			ActionType:  "login_failed",
			ObjectType:  "user",
			ObjectName:  username,
			Description: fmt.Sprintf("Failed login attempt for username: %s", username),
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "event must be login, logout, or login_failed"})
		return
	}

	if actor != nil {
		rec.ObjectID = actor.ID
	}

	// Session events use the system path: login_failed legitimately has no
	// actor, and login/logout must not be droppable by filter configuration.
	h.recorder.RecordSystem(c.Request.Context(), actor, c.Request, rec)
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}
