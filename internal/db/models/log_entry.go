// Package models - log_entry.go defines the LogEntry model, one immutable
// audit record per recorded change: who did what to which object, when, with
// optional before/after values and request metadata.
package models

import "time"

// LogEntry represents a single audit trail record. Rows are write-once:
// nothing ever updates an existing entry, and deletion happens only through
// the filtered bulk delete or the retention sweep.
type LogEntry struct {
	ID        int64     `db:"id" json:"id"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`

	// UserID / UserLogin identify the actor. Both are nil for system events
	// (failed logins, scheduled cleanup) recorded without a user.
	UserID    *int64  `db:"user_id" json:"user_id"`
	UserLogin *string `db:"user_login" json:"user_login"`

	// ActionType and ObjectType are open-ended string enumerations
	// ("created", "updated", "login_failed", ... / "post", "option", ...);
	// integrators add their own categories, so only non-emptiness is enforced.
	ActionType string `db:"action_type" json:"action_type"`
	ObjectType string `db:"object_type" json:"object_type"`

	// ObjectID is 0 when the entity has no natural numeric id (a plugin, an
	// option). ObjectName is the human-readable label at event time.
	ObjectID   int64  `db:"object_id" json:"object_id"`
	ObjectName string `db:"object_name" json:"object_name"`

	// Description is the precomputed summary built at recording time; it is
	// not reconstructable from the other fields later.
	Description string `db:"description" json:"description"`

	// OldValue / NewValue are opaque serialized payloads. nil means the value
	// was absent (distinct from an explicit empty string). Option adds carry
	// no old value and option deletes carry neither; that asymmetry comes
	// from the event source and is preserved as-is.
	OldValue *string `db:"old_value" json:"old_value"`
	NewValue *string `db:"new_value" json:"new_value"`

	// Request metadata captured at recording time; empty for system events.
	IPAddress string `db:"ip_address" json:"ip_address"`
	UserAgent string `db:"user_agent" json:"user_agent"`
}

// Actor identifies the user responsible for a change.
type Actor struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}
