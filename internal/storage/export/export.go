// Package export streams collected records as CSV or NDJSON.
package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
)

// Format names an export encoding.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

// ParseFormat accepts csv, ndjson or json (an alias for ndjson).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "ndjson", "json", "jsonl":
		return FormatNDJSON, nil
	}
	return "", fmt.Errorf("export: unknown format %q", s)
}

// ContentType is the HTTP media type for f.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/x-ndjson"
}

// Writer encodes records one at a time. Close flushes buffered output but
// does not close the underlying io.Writer.
type Writer interface {
	Write(r *storage.Record) error
	Close() error
}

// NewWriter returns a Writer for f on w.
func NewWriter(f Format, w io.Writer) (Writer, error) {
	switch f {
	case FormatCSV:
		return newCSVWriter(w), nil
	case FormatNDJSON:
		return &ndjsonWriter{enc: json.NewEncoder(w)}, nil
	}
	return nil, fmt.Errorf("export: unknown format %q", f)
}

// Columns is the CSV header row.
var Columns = []string{
	"id",
	"task_id",
	"url",
	"title",
	"content",
	"source",
	"status",
	"collected_at",
	"deep_collected",
	"deep_collected_at",
}

type csvWriter struct {
	w           *csv.Writer
	wroteHeader bool
}

func newCSVWriter(w io.Writer) *csvWriter {
	return &csvWriter{w: csv.NewWriter(w)}
}

func (c *csvWriter) Write(r *storage.Record) error {
	if !c.wroteHeader {
		if err := c.w.Write(Columns); err != nil {
			return fmt.Errorf("export: csv header: %w", err)
		}
		c.wroteHeader = true
	}
	deepAt := ""
	if r.DeepCollectedAt != nil {
		deepAt = r.DeepCollectedAt.Format(time.RFC3339)
	}
	row := []string{
		r.ID,
		r.TaskID,
		r.URL,
		r.Title,
		r.Content,
		r.Source,
		r.Status,
		r.CollectedAt.Format(time.RFC3339),
		strconv.FormatBool(r.DeepCollected),
		deepAt,
	}
	if err := c.w.Write(row); err != nil {
		return fmt.Errorf("export: csv row: %w", err)
	}
	return nil
}

func (c *csvWriter) Close() error {
	if !c.wroteHeader {
		// an empty export is still a valid CSV with a header
		if err := c.w.Write(Columns); err != nil {
			return fmt.Errorf("export: csv header: %w", err)
		}
		c.wroteHeader = true
	}
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		return fmt.Errorf("export: csv flush: %w", err)
	}
	return nil
}

// Line is the NDJSON shape of a record.
type Line struct {
	ID              string     `json:"id"`
	TaskID          string     `json:"task_id"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	Content         string     `json:"content"`
	Source          string     `json:"source"`
	Status          string     `json:"status"`
	CollectedAt     time.Time  `json:"collected_at"`
	DeepCollected   bool       `json:"deep_collected"`
	DeepCollectedAt *time.Time `json:"deep_collected_at,omitempty"`
}

type ndjsonWriter struct {
	enc *json.Encoder
}

func (n *ndjsonWriter) Write(r *storage.Record) error {
	line := Line{
		ID:              r.ID,
		TaskID:          r.TaskID,
		URL:             r.URL,
		Title:           r.Title,
		Content:         r.Content,
		Source:          r.Source,
		Status:          r.Status,
		CollectedAt:     r.CollectedAt,
		DeepCollected:   r.DeepCollected,
		DeepCollectedAt: r.DeepCollectedAt,
	}
	if err := n.enc.Encode(line); err != nil {
		return fmt.Errorf("export: ndjson: %w", err)
	}
	return nil
}

func (n *ndjsonWriter) Close() error { return nil }

// PageSize is how many records Records fetches per query.
const PageSize = 500

// Records streams every record matching f to w in ingestion order, paging
// through the store so large tasks never sit in memory at once. f.Limit and
// f.Offset are ignored. It returns the number of records written.
func Records(ctx context.Context, store storage.RecordStore, f storage.RecordFilter, w Writer) (int, error) {
	f.NewestFirst = false
	f.Limit = PageSize
	written := 0
	for offset := 0; ; offset += PageSize {
		f.Offset = offset
		page, err := store.QueryRecords(ctx, f)
		if err != nil {
			return written, fmt.Errorf("export: query page at %d: %w", offset, err)
		}
		for _, r := range page {
			if err := w.Write(r); err != nil {
				return written, err
			}
			written++
		}
		if len(page) < PageSize {
			break
		}
	}
	return written, w.Close()
}
