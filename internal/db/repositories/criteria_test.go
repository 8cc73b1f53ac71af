package repositories

import (
	"testing"
	"time"
)

func TestBuildWhere_NoCriteria(t *testing.T) {
	clauses, args := LogFilters{}.BuildWhere(1)
	if len(clauses) != 0 || len(args) != 0 {
		t.Errorf("expected no fragments, got %v / %v", clauses, args)
	}
	if !(LogFilters{}).Empty() {
		t.Error("empty filters should report Empty() = true")
	}
}

func TestBuildWhere_FragmentCountMatchesCriteria(t *testing.T) {
	tests := []struct {
		name       string
		f          LogFilters
		wantFrags  int
		wantValues int
	}{
		{"action only", LogFilters{ActionType: "updated"}, 1, 1},
		{"object only", LogFilters{ObjectType: "post"}, 1, 1},
		{"user only", LogFilters{UserID: 7}, 1, 1},
		{"search only", LogFilters{Search: "timezone"}, 1, 2},
		{"date range", LogFilters{DateFrom: "2026-01-01", DateTo: "2026-01-31"}, 2, 2},
		{"everything", LogFilters{
			ActionType: "updated", ObjectType: "option", UserID: 7,
			Search: "tz", DateFrom: "2026-01-01", DateTo: "2026-01-31",
		}, 6, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clauses, args := tt.f.BuildWhere(1)
			if len(clauses) != tt.wantFrags {
				t.Errorf("fragments = %d, want %d (%v)", len(clauses), tt.wantFrags, clauses)
			}
			if len(args) != tt.wantValues {
				t.Errorf("values = %d, want %d (%v)", len(args), tt.wantValues, args)
			}
		})
	}
}

func TestBuildWhere_PlaceholderNumbering(t *testing.T) {
	clauses, _ := LogFilters{ActionType: "updated", Search: "x"}.BuildWhere(3)
	if clauses[0] != "action_type = $3" {
		t.Errorf("first clause = %q", clauses[0])
	}
	if clauses[1] != "(description ILIKE $4 OR object_name ILIKE $5)" {
		t.Errorf("search clause = %q", clauses[1])
	}
}

func TestBuildWhere_MalformedDatesSilentlyDropped(t *testing.T) {
	for _, bad := range []string{"2026-1-1", "01/02/2026", "yesterday", "2026-13-40", "2026-02-30"} {
		clauses, args := LogFilters{DateFrom: bad}.BuildWhere(1)
		if len(clauses) != 0 || len(args) != 0 {
			t.Errorf("date %q should be dropped, got %v", bad, clauses)
		}
	}
}

func TestBuildWhere_DateBoundsExpandToDayEdges(t *testing.T) {
	_, args := LogFilters{DateFrom: "2026-03-05", DateTo: "2026-03-05"}.BuildWhere(1)
	if len(args) != 2 {
		t.Fatalf("expected 2 bound values, got %d", len(args))
	}
	from := args[0].(time.Time)
	to := args[1].(time.Time)
	if from.Hour() != 0 || from.Minute() != 0 || from.Second() != 0 {
		t.Errorf("from bound = %v, want day start", from)
	}
	if to.Hour() != 23 || to.Minute() != 59 || to.Second() != 59 {
		t.Errorf("to bound = %v, want day end", to)
	}
}

func TestBuildWhere_SearchEscapesLikeMetacharacters(t *testing.T) {
	_, args := LogFilters{Search: "100%_done"}.BuildWhere(1)
	want := `%100\%\_done%`
	if args[0] != want {
		t.Errorf("like arg = %q, want %q", args[0], want)
	}
}

func TestWhereSQL(t *testing.T) {
	if got := whereSQL(nil); got != "" {
		t.Errorf("whereSQL(nil) = %q", got)
	}
	got := whereSQL([]string{"a = $1", "b = $2"})
	if got != " WHERE a = $1 AND b = $2" {
		t.Errorf("whereSQL = %q", got)
	}
}
