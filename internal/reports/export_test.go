package reports

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestExecuteWithExportCSV(t *testing.T) {
	created := time.Date(2024, 7, 1, 9, 30, 0, 0, time.UTC)
	db := &fakeDB{
		resultCols: []string{"ticket_id", "created_at", "subject"},
		resultRows: [][]any{
			{"T-1", created, `said "urgent"`},
			{"T-2", "2024-07-02T10:00:00Z", "printer"},
		},
	}
	store := newMemStore()
	e := testEngine(db, store)
	rep := Report{ID: "r1", Query: "select ticket_id, created_at, subject from tickets", Columns: []string{"ticket_id", "created_at", "subject"}}
	ex, err := e.ExecuteWithExport(context.Background(), rep, nil, "csv", TypeManual, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if ex.FilePath == nil {
		t.Fatal("file path not set")
	}
	if !strings.HasPrefix(*ex.FilePath, "exports/report_"+ex.ID+"_") || !strings.HasSuffix(*ex.FilePath, ".csv") {
		t.Fatalf("file path %q", *ex.FilePath)
	}
	body, ok := store.objects[*ex.FilePath]
	if !ok {
		t.Fatal("export object missing")
	}
	recs, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("records: %d", len(recs))
	}
	wantHeader := []string{"Ticket Id", "Created At", "Subject"}
	for i, h := range wantHeader {
		if recs[0][i] != h {
			t.Fatalf("header %v want %v", recs[0], wantHeader)
		}
	}
	if recs[1][1] != "2024-07-01 09:30:00" {
		t.Fatalf("time cell %q", recs[1][1])
	}
	if recs[1][2] != `said "urgent"` {
		t.Fatalf("quoted cell %q", recs[1][2])
	}
	if recs[2][1] != "2024-07-02 10:00:00" {
		t.Fatalf("string date cell %q", recs[2][1])
	}
}

func TestExecuteWithExportJSON(t *testing.T) {
	db := &fakeDB{
		resultCols: []string{"name", "total"},
		resultRows: [][]any{{"alice", 3}},
	}
	store := newMemStore()
	e := testEngine(db, store)
	rep := Report{ID: "r1", Query: "select name, total from agent_counts", Columns: []string{"name", "total"}}
	ex, err := e.ExecuteWithExport(context.Background(), rep, nil, "json", TypeManual, nil)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(store.objects[*ex.FilePath], &out); err != nil {
		t.Fatalf("parse json: %v", err)
	}
	if len(out) != 1 || out[0]["name"] != "alice" {
		t.Fatalf("payload: %v", out)
	}
}

func TestExecuteWithExportNoRows(t *testing.T) {
	db := &fakeDB{resultCols: []string{"id"}}
	e := testEngine(db, newMemStore())
	rep := Report{ID: "r1", Query: "select id from tickets where false"}
	ex, err := e.ExecuteWithExport(context.Background(), rep, nil, "csv", TypeManual, nil)
	if err == nil || !strings.Contains(err.Error(), "no data to export") {
		t.Fatalf("expected no-data error, got %v", err)
	}
	if ex.Status != StatusFailed {
		t.Fatalf("status %q", ex.Status)
	}
}

func TestExecuteWithExportBadFormat(t *testing.T) {
	e := testEngine(&fakeDB{}, newMemStore())
	rep := Report{ID: "r1", Query: "select 1"}
	if _, err := e.ExecuteWithExport(context.Background(), rep, nil, "xml", TypeManual, nil); err == nil {
		t.Fatal("expected format error")
	}
}

func TestHumanize(t *testing.T) {
	cases := map[string]string{
		"created_at":        "Created At",
		"id":                "Id",
		"avg_response_time": "Avg Response Time",
	}
	for in, want := range cases {
		if got := humanize(in); got != want {
			t.Errorf("humanize(%q) = %q want %q", in, got, want)
		}
	}
}

func TestRenderValue(t *testing.T) {
	if got := renderValue(nil); got != "" {
		t.Fatalf("nil: %q", got)
	}
	if got := renderValue(12); got != "12" {
		t.Fatalf("int: %q", got)
	}
	if got := renderValue("plain text"); got != "plain text" {
		t.Fatalf("string: %q", got)
	}
	if got := renderValue("2024-07-01"); got != "2024-07-01 00:00:00" {
		t.Fatalf("date string: %q", got)
	}
}
