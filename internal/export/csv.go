// Package export streams filtered audit log entries as CSV. Exports are
// bounded by a hard row cap checked up front, and rows are fetched in fixed
// chunks so memory stays flat regardless of result size.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/changetrail/changetrail/internal/db/models"
	"github.com/changetrail/changetrail/internal/db/repositories"
	"github.com/changetrail/changetrail/internal/telemetry"
)

var (
	// ErrNoRows means the filtered set is empty; nothing was written.
	ErrNoRows = errors.New("export: no matching entries")
	// ErrTooManyRows means the filtered set exceeds the configured cap;
	// nothing was written. The caller should tell the user to narrow the
	// filters or rely on retention.
	ErrTooManyRows = errors.New("export: too many matching entries")
)

// header is the fixed column set, stable across releases so downstream
// tooling can rely on it.
var header = []string{
	"ID", "Timestamp", "User ID", "User Login", "Action Type", "Object Type",
	"Object ID", "Object Name", "Description", "Old Value", "New Value",
	"IP Address", "User Agent",
}

// utf8BOM is prepended so spreadsheet applications detect the encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// LogSource is the storage dependency; satisfied by repositories.LogRepository.
type LogSource interface {
	CountLogs(ctx context.Context, filters repositories.LogFilters) (int64, error)
	ListLogs(ctx context.Context, filters repositories.LogFilters, limit, offset int) ([]*models.LogEntry, error)
}

// Exporter writes CSV exports of the audit log.
type Exporter struct {
	source    LogSource
	maxRows   int
	chunkSize int
}

func NewExporter(source LogSource, maxRows, chunkSize int) *Exporter {
	return &Exporter{source: source, maxRows: maxRows, chunkSize: chunkSize}
}

// Write streams the filtered entries to w as UTF-8 CSV with a BOM and a
// header row. The row count is checked before the first byte is written:
// ErrNoRows and ErrTooManyRows both guarantee an untouched writer, so HTTP
// handlers can still send a clean error status.
//
// The count and the chunked reads are separate queries; entries recorded
// between them appear or not depending on timing, which is acceptable for an
// append-mostly log.
func (e *Exporter) Write(ctx context.Context, w io.Writer, filters repositories.LogFilters) (int64, error) {
	total, err := e.source.CountLogs(ctx, filters)
	if err != nil {
		telemetry.ExportsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("counting exportable entries: %w", err)
	}
	if total == 0 {
		telemetry.ExportsTotal.WithLabelValues("empty").Inc()
		return 0, ErrNoRows
	}
	if total > int64(e.maxRows) {
		telemetry.ExportsTotal.WithLabelValues("too_many").Inc()
		return total, ErrTooManyRows
	}

	if _, err := w.Write(utf8BOM); err != nil {
		telemetry.ExportsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("writing BOM: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		telemetry.ExportsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("writing header: %w", err)
	}

	var written int64
	for offset := 0; ; offset += e.chunkSize {
		entries, err := e.source.ListLogs(ctx, filters, e.chunkSize, offset)
		if err != nil {
			telemetry.ExportsTotal.WithLabelValues("error").Inc()
			return written, fmt.Errorf("fetching export chunk at offset %d: %w", offset, err)
		}
		for _, entry := range entries {
			if err := cw.Write(record(entry)); err != nil {
				telemetry.ExportsTotal.WithLabelValues("error").Inc()
				return written, fmt.Errorf("writing row: %w", err)
			}
			written++
		}
		if len(entries) < e.chunkSize {
			break
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		telemetry.ExportsTotal.WithLabelValues("error").Inc()
		return written, fmt.Errorf("flushing export: %w", err)
	}

	telemetry.ExportsTotal.WithLabelValues("ok").Inc()
	telemetry.ExportedRowsTotal.Add(float64(written))
	return written, nil
}

// record renders one entry. Absent nullable fields become empty cells,
// indistinguishable in CSV from explicit empty strings; the distinction only
// survives in the database.
func record(e *models.LogEntry) []string {
	var userID, userLogin, oldValue, newValue string
	if e.UserID != nil {
		userID = strconv.FormatInt(*e.UserID, 10)
	}
	if e.UserLogin != nil {
		userLogin = *e.UserLogin
	}
	if e.OldValue != nil {
		oldValue = *e.OldValue
	}
	if e.NewValue != nil {
		newValue = *e.NewValue
	}
	return []string{
		strconv.FormatInt(e.ID, 10),
		e.Timestamp.UTC().Format("2006-01-02 15:04:05"),
		userID,
		userLogin,
		e.ActionType,
		e.ObjectType,
		strconv.FormatInt(e.ObjectID, 10),
		e.ObjectName,
		e.Description,
		oldValue,
		newValue,
		e.IPAddress,
		e.UserAgent,
	}
}
