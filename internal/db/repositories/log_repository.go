// log_repository.go implements LogRepository, the single storage gateway for
// the change_log table: append-only inserts, filtered count/list queries,
// filtered bulk delete, and the retention sweep delete.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/changetrail/changetrail/internal/db/models"
)

// ErrUnfilteredDelete is returned when a bulk delete is requested with no
// criteria. An unfiltered "delete everything" request is a usage error,
// distinct from a filtered delete that happens to match zero rows.
var ErrUnfilteredDelete = errors.New("refusing to delete logs without filter criteria")

// LogRepository handles change_log database operations
type LogRepository struct {
	db *sqlx.DB
}

// NewLogRepository creates a new LogRepository
func NewLogRepository(db *sqlx.DB) *LogRepository {
	return &LogRepository{db: db}
}

const logColumns = `id, timestamp, user_id, user_login, action_type, object_type,
		object_id, object_name, description, old_value, new_value, ip_address, user_agent`

// InsertLogEntry appends one entry and fills in its storage-assigned ID.
// The timestamp is set here (UTC) if the caller left it zero.
func (r *LogRepository) InsertLogEntry(ctx context.Context, entry *models.LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO change_log (timestamp, user_id, user_login, action_type, object_type,
			object_id, object_name, description, old_value, new_value, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`

	err := r.db.QueryRowContext(ctx, query,
		entry.Timestamp,
		entry.UserID,
		entry.UserLogin,
		entry.ActionType,
		entry.ObjectType,
		entry.ObjectID,
		entry.ObjectName,
		entry.Description,
		entry.OldValue,
		entry.NewValue,
		entry.IPAddress,
		entry.UserAgent,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("insert log entry: %w", err)
	}
	return nil
}

// CountLogs returns the number of entries matching the filters.
func (r *LogRepository) CountLogs(ctx context.Context, filters LogFilters) (int64, error) {
	clauses, args := filters.BuildWhere(1)
	query := `SELECT COUNT(*) FROM change_log` + whereSQL(clauses)

	var total int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return total, nil
}

// ListLogs retrieves matching entries ordered by timestamp descending, with
// LIMIT/OFFSET pagination. The same ordering is used by the CSV export so a
// page on screen corresponds to a contiguous slice of the export.
func (r *LogRepository) ListLogs(ctx context.Context, filters LogFilters, limit, offset int) ([]*models.LogEntry, error) {
	clauses, args := filters.BuildWhere(1)
	n := len(args)

	query := fmt.Sprintf(`SELECT %s FROM change_log%s ORDER BY timestamp DESC LIMIT $%d OFFSET $%d`,
		logColumns, whereSQL(clauses), n+1, n+2)
	args = append(args, limit, offset)

	logs := make([]*models.LogEntry, 0)
	if err := r.db.SelectContext(ctx, &logs, query, args...); err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return logs, nil
}

// DeleteLogs removes all entries matching the filters and returns the number
// of rows removed. Refuses to run when no criterion is supplied.
func (r *LogRepository) DeleteLogs(ctx context.Context, filters LogFilters) (int64, error) {
	clauses, args := filters.BuildWhere(1)
	if len(clauses) == 0 {
		return 0, ErrUnfilteredDelete
	}

	res, err := r.db.ExecContext(ctx, `DELETE FROM change_log`+whereSQL(clauses), args...)
	if err != nil {
		return 0, fmt.Errorf("delete logs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete logs rows affected: %w", err)
	}
	return deleted, nil
}

// DeleteOlderThan removes every entry with a timestamp before cutoff and
// returns the number of rows removed. Used by the retention sweep.
func (r *LogRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM change_log WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old logs: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete old logs rows affected: %w", err)
	}
	return deleted, nil
}

// DistinctActionTypes returns the action types present in the log, for the
// admin filter dropdowns.
func (r *LogRepository) DistinctActionTypes(ctx context.Context) ([]string, error) {
	types := make([]string, 0)
	err := r.db.SelectContext(ctx, &types,
		`SELECT DISTINCT action_type FROM change_log ORDER BY action_type`)
	if err != nil {
		return nil, fmt.Errorf("distinct action types: %w", err)
	}
	return types, nil
}

// DistinctObjectTypes returns the object types present in the log.
func (r *LogRepository) DistinctObjectTypes(ctx context.Context) ([]string, error) {
	types := make([]string, 0)
	err := r.db.SelectContext(ctx, &types,
		`SELECT DISTINCT object_type FROM change_log ORDER BY object_type`)
	if err != nil {
		return nil, fmt.Errorf("distinct object types: %w", err)
	}
	return types, nil
}

// ActorRef is one user appearing in the log, for the filter dropdowns.
type ActorRef struct {
	UserID    int64  `db:"user_id" json:"user_id"`
	UserLogin string `db:"user_login" json:"user_login"`
}

// ListActors returns the distinct users that have recorded entries.
func (r *LogRepository) ListActors(ctx context.Context) ([]ActorRef, error) {
	actors := make([]ActorRef, 0)
	err := r.db.SelectContext(ctx, &actors,
		`SELECT DISTINCT user_id, user_login FROM change_log
		 WHERE user_id IS NOT NULL ORDER BY user_login`)
	if err != nil {
		return nil, fmt.Errorf("list actors: %w", err)
	}
	return actors, nil
}
