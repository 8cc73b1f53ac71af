package recorder

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/changetrail/changetrail/internal/db/models"
)

type captureWriter struct {
	entries []*models.LogEntry
	err     error
}

func (w *captureWriter) InsertLogEntry(_ context.Context, entry *models.LogEntry) error {
	if w.err != nil {
		return w.err
	}
	w.entries = append(w.entries, entry)
	return nil
}

func testActor() *models.Actor {
	return &models.Actor{ID: 7, Login: "admin"}
}

func TestRecord_SkipsWhenNoActor(t *testing.T) {
	w := &captureWriter{}
	r := New(w)

	if err := r.Record(context.Background(), nil, nil, Event{ActionType: "updated", ObjectType: "option"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(w.entries) != 0 {
		t.Errorf("entry written despite missing actor: %+v", w.entries)
	}
}

func TestRecord_AttributesActorAndRequest(t *testing.T) {
	w := &captureWriter{}
	r := New(w)

	req := httptest.NewRequest("POST", "/api/v1/events/option", nil)
	req.RemoteAddr = "203.0.113.9:4242"
	req.Header.Set("User-Agent", "Mozilla/5.0")

	old := "UTC"
	if err := r.Record(context.Background(), testActor(), req, Event{
		ActionType:  "updated",
		ObjectType:  "option",
		ObjectName:  "site_timezone",
		Description: "Option updated: site_timezone",
		OldValue:    &old,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(w.entries))
	}
	e := w.entries[0]
	if e.UserID == nil || *e.UserID != 7 || e.UserLogin == nil || *e.UserLogin != "admin" {
		t.Errorf("actor not attributed: user_id=%v user_login=%v", e.UserID, e.UserLogin)
	}
	if e.IPAddress != "203.0.113.9" {
		t.Errorf("ip_address = %q", e.IPAddress)
	}
	if e.UserAgent != "Mozilla/5.0" {
		t.Errorf("user_agent = %q", e.UserAgent)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if e.OldValue == nil || *e.OldValue != "UTC" {
		t.Errorf("old_value = %v", e.OldValue)
	}
	if e.NewValue != nil {
		t.Errorf("new_value should stay nil, got %v", e.NewValue)
	}
}

func TestRecord_TruncatesLongUserAgent(t *testing.T) {
	w := &captureWriter{}
	r := New(w)

	req := httptest.NewRequest("POST", "/", nil)
	req.Header.Set("User-Agent", strings.Repeat("x", 400))

	_ = r.Record(context.Background(), testActor(), req, Event{ActionType: "updated", ObjectType: "post"})
	if len(w.entries) != 1 {
		t.Fatal("expected one entry")
	}
	if got := len(w.entries[0].UserAgent); got != maxUserAgentLen {
		t.Errorf("user_agent length = %d, want %d", got, maxUserAgentLen)
	}
}

func TestRecord_SwallowsStorageFailure(t *testing.T) {
	w := &captureWriter{err: errors.New("connection refused")}
	r := New(w)

	if err := r.Record(context.Background(), testActor(), nil, Event{ActionType: "updated", ObjectType: "option"}); err != nil {
		t.Errorf("storage failure must not surface, got %v", err)
	}
}

type captureShipper struct {
	shipped []*models.LogEntry
}

func (s *captureShipper) Ship(_ context.Context, entry *models.LogEntry) error {
	s.shipped = append(s.shipped, entry)
	return nil
}

func TestRecord_ShipsAfterSuccessfulInsert(t *testing.T) {
	w := &captureWriter{}
	s := &captureShipper{}
	r := New(w, WithShipper(s))

	r.Record(context.Background(), testActor(), nil, Event{ActionType: "updated", ObjectType: "post"})

	if len(s.shipped) != 1 {
		t.Fatalf("shipped = %d, want 1", len(s.shipped))
	}
	if s.shipped[0].ActionType != "updated" {
		t.Errorf("shipped entry = %+v", s.shipped[0])
	}
}

func TestRecord_FailedInsertNotShipped(t *testing.T) {
	w := &captureWriter{err: errors.New("connection refused")}
	s := &captureShipper{}
	r := New(w, WithShipper(s))

	r.Record(context.Background(), testActor(), nil, Event{ActionType: "updated", ObjectType: "post"})

	if len(s.shipped) != 0 {
		t.Error("entry that failed to store was shipped")
	}
}

func TestRecordSystem_AllowsMissingActor(t *testing.T) {
	w := &captureWriter{}
	r := New(w)

	req := httptest.NewRequest("POST", "/api/v1/events/session", nil)
	req.RemoteAddr = "198.51.100.7:1000"

	if err := r.RecordSystem(context.Background(), nil, req, Event{
		ActionType:  "login_failed",
		ObjectType:  "user",
		ObjectName:  "admin",
		Description: "Failed login attempt for username: admin",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(w.entries) != 1 {
		t.Fatalf("len(entries) = %d, want 1", len(w.entries))
	}
	e := w.entries[0]
	if e.UserID != nil || e.UserLogin != nil {
		t.Errorf("system entry should have nil actor fields, got %v/%v", e.UserID, e.UserLogin)
	}
	if e.IPAddress != "198.51.100.7" {
		t.Errorf("ip_address = %q", e.IPAddress)
	}
}

func TestRecordSystem_AttributesActorWhenPresent(t *testing.T) {
	w := &captureWriter{}
	r := New(w)

	_ = r.RecordSystem(context.Background(), testActor(), nil, Event{
		ActionType: "cleanup",
		ObjectType: "log",
	})
	if len(w.entries) != 1 {
		t.Fatal("expected one entry")
	}
	if w.entries[0].UserID == nil || *w.entries[0].UserID != 7 {
		t.Errorf("manual trigger should name the admin, got %v", w.entries[0].UserID)
	}
}

func TestEncodeValue(t *testing.T) {
	if got := EncodeValue(nil); got != nil {
		t.Errorf("EncodeValue(nil) = %v, want nil", got)
	}

	tests := []struct {
		in   any
		want string
	}{
		{"plain", "plain"},
		{"", ""},
		{true, "true"},
		{int64(42), "42"},
		{3.5, "3.5"},
		{map[string]any{"a": 1}, `{"a":1}`},
		{[]any{"x", "y"}, `["x","y"]`},
	}
	for _, tt := range tests {
		got := EncodeValue(tt.in)
		if got == nil || *got != tt.want {
			t.Errorf("EncodeValue(%#v) = %v, want %q", tt.in, got, tt.want)
		}
	}
}
