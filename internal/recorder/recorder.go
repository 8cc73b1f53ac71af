// Package recorder turns accepted change events into audit log rows. It owns
// the write path's non-negotiables: actor attribution, request metadata
// capture, value serialization, and the rule that recording failures never
// propagate to the operation that triggered them.
package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/changetrail/changetrail/internal/db/models"
	"github.com/changetrail/changetrail/internal/telemetry"
)

// maxUserAgentLen matches the user_agent column width.
const maxUserAgentLen = 255

// EntryWriter is the storage dependency; satisfied by repositories.LogRepository.
type EntryWriter interface {
	InsertLogEntry(ctx context.Context, entry *models.LogEntry) error
}

// EntryShipper forwards successfully recorded entries to external
// destinations; satisfied by shipper.MultiShipper. Shipping is best-effort
// and runs after the database write.
type EntryShipper interface {
	Ship(ctx context.Context, entry *models.LogEntry) error
}

// Event is one change to be recorded. OldValue/NewValue are already
// serialized (see EncodeValue); nil means the value was absent at the source
// and stays nil in storage.
type Event struct {
	ActionType  string
	ObjectType  string
	ObjectID    int64
	ObjectName  string
	Description string
	OldValue    *string
	NewValue    *string
}

// Recorder writes audit entries. Construct one per process and share it; it
// holds no per-request state.
type Recorder struct {
	writer  EntryWriter
	shipper EntryShipper
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithShipper forwards every recorded entry to s after the database write.
func WithShipper(s EntryShipper) Option {
	return func(r *Recorder) { r.shipper = s }
}

func New(writer EntryWriter, opts ...Option) *Recorder {
	r := &Recorder{writer: writer}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record writes an entry attributed to actor, capturing client IP and user
// agent from req (req may be nil for events with no HTTP context). Events
// without an identified actor are silently skipped: user-attributable
// operations that reach this path anonymously indicate a misconfigured
// source, not an auditable change.
//
// Always returns nil. A failed insert is logged and counted but never
// surfaces, so the operation being audited cannot be broken by its own
// audit trail.
func (r *Recorder) Record(ctx context.Context, actor *models.Actor, req *http.Request, ev Event) error {
	if actor == nil {
		telemetry.EntriesSuppressedTotal.WithLabelValues("no_actor").Inc()
		return nil
	}
	r.insert(ctx, actor, req, ev)
	return nil
}

// RecordSystem writes an entry that does not require an identified actor:
// failed logins, retention sweeps, and other events the system itself
// generates. When actor is non-nil it is still attributed (a manually
// triggered cleanup names the admin who ran it). Same failure contract as
// Record.
func (r *Recorder) RecordSystem(ctx context.Context, actor *models.Actor, req *http.Request, ev Event) error {
	r.insert(ctx, actor, req, ev)
	return nil
}

func (r *Recorder) insert(ctx context.Context, actor *models.Actor, req *http.Request, ev Event) {
	entry := &models.LogEntry{
		Timestamp:   time.Now().UTC(),
		ActionType:  ev.ActionType,
		ObjectType:  ev.ObjectType,
		ObjectID:    ev.ObjectID,
		ObjectName:  ev.ObjectName,
		Description: ev.Description,
		OldValue:    ev.OldValue,
		NewValue:    ev.NewValue,
	}
	if actor != nil {
		id, login := actor.ID, actor.Login
		entry.UserID = &id
		entry.UserLogin = &login
	}
	if req != nil {
		entry.IPAddress = ClientIP(req)
		entry.UserAgent = truncate(req.UserAgent(), maxUserAgentLen)
	}

	if err := r.writer.InsertLogEntry(ctx, entry); err != nil {
		telemetry.EntriesSuppressedTotal.WithLabelValues("storage").Inc()
		slog.Warn("audit entry dropped: insert failed",
			"action_type", ev.ActionType,
			"object_type", ev.ObjectType,
			"object_name", ev.ObjectName,
			"error", err)
		return
	}
	telemetry.EntriesRecordedTotal.WithLabelValues(ev.ActionType, ev.ObjectType).Inc()

	if r.shipper != nil {
		// Best-effort: the shipper logs its own failures.
		_ = r.shipper.Ship(ctx, entry)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// EncodeValue serializes an arbitrary event payload value for storage.
// nil stays nil (absent, not empty), strings pass through untouched, scalars
// render with fmt, and structured values become compact JSON. Serialization
// never fails an event: an unmarshalable value falls back to its fmt
// rendering.
func EncodeValue(v any) *string {
	if v == nil {
		return nil
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case bool, int, int32, int64, float32, float64, json.Number:
		s = fmt.Sprint(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			s = fmt.Sprint(val)
		} else {
			s = string(b)
		}
	}
	return &s
}
