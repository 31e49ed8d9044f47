package export

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/storage/sqlite"
)

func seed(t *testing.T, n int) storage.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var recs []*storage.Record
	for i := 0; i < n; i++ {
		recs = append(recs, &storage.Record{
			TaskID:  "t1",
			URL:     fmt.Sprintf("https://example.com/%d", i),
			Title:   fmt.Sprintf("title, with comma %d", i),
			Content: "line one\nline two",
			Source:  "baidu_search",
		})
	}
	if _, err := s.InsertRecords(context.Background(), recs); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return s
}

func TestRecords_CSV(t *testing.T) {
	s := seed(t, 3)

	var buf bytes.Buffer
	w, _ := NewWriter(FormatCSV, &buf)
	n, err := Records(context.Background(), s, storage.RecordFilter{TaskID: "t1"}, w)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 written, got %d", n)
	}

	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read back csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header + 3 rows, got %d", len(rows))
	}
	if rows[0][2] != "url" || rows[1][2] != "https://example.com/0" {
		t.Errorf("unexpected rows: %v", rows[:2])
	}
	if rows[1][3] != "title, with comma 0" || rows[1][4] != "line one\nline two" {
		t.Errorf("csv quoting lost data: %v", rows[1])
	}
}

func TestRecords_CSVEmpty(t *testing.T) {
	s := seed(t, 0)
	var buf bytes.Buffer
	w, _ := NewWriter(FormatCSV, &buf)
	if _, err := Records(context.Background(), s, storage.RecordFilter{TaskID: "t1"}, w); err != nil {
		t.Fatalf("export: %v", err)
	}
	rows, _ := csv.NewReader(&buf).ReadAll()
	if len(rows) != 1 {
		t.Errorf("expected header only, got %d rows", len(rows))
	}
}

func TestRecords_NDJSONPaging(t *testing.T) {
	s := seed(t, PageSize+7)

	var buf bytes.Buffer
	w, _ := NewWriter(FormatNDJSON, &buf)
	n, err := Records(context.Background(), s, storage.RecordFilter{TaskID: "t1", Limit: 1}, w)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != PageSize+7 {
		t.Errorf("expected %d written, got %d", PageSize+7, n)
	}

	sc := bufio.NewScanner(&buf)
	lines := 0
	var last Line
	for sc.Scan() {
		if err := json.Unmarshal(sc.Bytes(), &last); err != nil {
			t.Fatalf("bad line %d: %v", lines, err)
		}
		lines++
	}
	if lines != PageSize+7 {
		t.Errorf("expected %d lines, got %d", PageSize+7, lines)
	}
	if last.URL != fmt.Sprintf("https://example.com/%d", PageSize+6) {
		t.Errorf("expected ingestion order, last was %s", last.URL)
	}
	if last.CollectedAt.IsZero() || last.CollectedAt.After(time.Now().Add(time.Minute)) {
		t.Errorf("unexpected collected_at: %v", last.CollectedAt)
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"csv": FormatCSV, "JSON": FormatNDJSON, "ndjson": FormatNDJSON, "jsonl": FormatNDJSON} {
		if got, err := ParseFormat(in); err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for xml")
	}
	if FormatCSV.ContentType() == FormatNDJSON.ContentType() {
		t.Error("content types should differ")
	}
}
