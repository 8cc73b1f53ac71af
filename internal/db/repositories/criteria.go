// criteria.go builds parameterized WHERE fragments from the optional admin
// filter criteria. The same builder backs the listing view, the CSV export,
// and the filtered bulk delete, so "delete what I just exported" and "export
// what I'm viewing" always operate on identical predicate semantics.
package repositories

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// LogFilters contains the optional criteria for querying the change log.
// Zero values mean "criterion not supplied".
type LogFilters struct {
	ActionType string
	ObjectType string
	UserID     int64
	Search     string
	DateFrom   string // YYYY-MM-DD, inclusive day start
	DateTo     string // YYYY-MM-DD, inclusive day end
}

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Empty reports whether no criterion is supplied. A delete with empty
// filters is refused by the repository.
func (f LogFilters) Empty() bool {
	_, args := f.BuildWhere(1)
	return len(args) == 0
}

// BuildWhere produces the ordered predicate fragments and matching bound
// values for the supplied criteria, using $n placeholders starting at
// startIndex. Fragments combine with AND. Malformed date strings are
// silently dropped rather than producing a query error.
func (f LogFilters) BuildWhere(startIndex int) ([]string, []any) {
	clauses := make([]string, 0, 6)
	args := make([]any, 0, 7)
	n := startIndex

	if f.ActionType != "" {
		clauses = append(clauses, fmt.Sprintf("action_type = $%d", n))
		args = append(args, f.ActionType)
		n++
	}

	if f.ObjectType != "" {
		clauses = append(clauses, fmt.Sprintf("object_type = $%d", n))
		args = append(args, f.ObjectType)
		n++
	}

	if f.UserID != 0 {
		clauses = append(clauses, fmt.Sprintf("user_id = $%d", n))
		args = append(args, f.UserID)
		n++
	}

	if f.Search != "" {
		like := "%" + escapeLike(f.Search) + "%"
		clauses = append(clauses, fmt.Sprintf("(description ILIKE $%d OR object_name ILIKE $%d)", n, n+1))
		args = append(args, like, like)
		n += 2
	}

	if t, ok := parseDay(f.DateFrom); ok {
		clauses = append(clauses, fmt.Sprintf("timestamp >= $%d", n))
		args = append(args, t)
		n++
	}

	if t, ok := parseDay(f.DateTo); ok {
		clauses = append(clauses, fmt.Sprintf("timestamp <= $%d", n))
		args = append(args, t.Add(24*time.Hour-time.Second))
		n++
	}

	return clauses, args
}

// whereSQL renders the fragments as a WHERE clause, or "" when no criterion
// survived validation.
func whereSQL(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// parseDay validates a YYYY-MM-DD string and returns the UTC day start.
func parseDay(s string) (time.Time, bool) {
	if s == "" || !dateRe.MatchString(s) {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// escapeLike neutralizes LIKE metacharacters in user-supplied search text so
// the search matches literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
