// Package report summarizes collected records and tasks as text, JSON or
// HTML.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"sort"
	"text/template"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
)

// SourceCount is the number of records collected from one source.
type SourceCount struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}

// Summary aggregates a set of records and tasks.
type Summary struct {
	TotalRecords  int                        `json:"total_records"`
	Saved         int                        `json:"saved"`
	Collected     int                        `json:"collected"`
	DeepCollected int                        `json:"deep_collected"`
	BySource      []SourceCount              `json:"by_source"`
	TotalTasks    int                        `json:"total_tasks"`
	TasksByStatus map[storage.TaskStatus]int `json:"tasks_by_status"`
	StartTime     time.Time                  `json:"start_time"`
	EndTime       time.Time                  `json:"end_time"`
	Duration      time.Duration              `json:"duration_ns"`
}

// GenerateSummary aggregates records and tasks. BySource is ordered by count,
// then name.
func GenerateSummary(records []*storage.Record, tasks []*storage.Task) Summary {
	s := Summary{TasksByStatus: make(map[storage.TaskStatus]int)}

	for _, t := range tasks {
		s.TotalTasks++
		s.TasksByStatus[t.Status]++
	}

	if len(records) == 0 {
		return s
	}

	s.StartTime = records[0].CollectedAt
	s.EndTime = records[0].CollectedAt
	bySource := make(map[string]int)

	for _, r := range records {
		s.TotalRecords++
		switch r.Status {
		case storage.RecordSaved:
			s.Saved++
		default:
			s.Collected++
		}
		if r.DeepCollected {
			s.DeepCollected++
		}
		bySource[r.Source]++

		if r.CollectedAt.Before(s.StartTime) {
			s.StartTime = r.CollectedAt
		}
		if r.CollectedAt.After(s.EndTime) {
			s.EndTime = r.CollectedAt
		}
	}

	for src, n := range bySource {
		s.BySource = append(s.BySource, SourceCount{Source: src, Count: n})
	}
	sort.Slice(s.BySource, func(i, j int) bool {
		if s.BySource[i].Count != s.BySource[j].Count {
			return s.BySource[i].Count > s.BySource[j].Count
		}
		return s.BySource[i].Source < s.BySource[j].Source
	})

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// Store is the read access Load needs.
type Store interface {
	QueryRecords(ctx context.Context, f storage.RecordFilter) ([]*storage.Record, error)
	ListTasks(ctx context.Context, f storage.TaskFilter) ([]*storage.Task, error)
}

// Load summarizes the records matching f and every task.
func Load(ctx context.Context, st Store, f storage.RecordFilter) (Summary, error) {
	records, err := st.QueryRecords(ctx, f)
	if err != nil {
		return Summary{}, fmt.Errorf("report: records: %w", err)
	}
	tasks, err := st.ListTasks(ctx, storage.TaskFilter{})
	if err != nil {
		return Summary{}, fmt.Errorf("report: tasks: %w", err)
	}
	return GenerateSummary(records, tasks), nil
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("report: json: %w", err)
	}
	return nil
}

const timeLayout = "2006-01-02 15:04:05"

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	const textTmpl = `Gleaner Collection Summary
--------------------------
Time:            {{.StartTime.Format "` + timeLayout + `"}} - {{.EndTime.Format "` + timeLayout + `"}}
Span:            {{.Duration}}
Records:         {{.TotalRecords}}
  Saved:         {{.Saved}}
  Collected:     {{.Collected}}
Deep Collected:  {{.DeepCollected}}

By Source:
{{- range .BySource}}
  {{.Source}}: {{.Count}}
{{- else}}
  None
{{- end}}

Tasks: {{.TotalTasks}}
{{- range $status, $count := .TasksByStatus}}
  {{$status}}: {{$count}}
{{- else}}
  None
{{- end}}
`

	t, err := template.New("textReport").Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("report: text template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: text: %w", err)
	}

	return nil
}

// WriteHTML writes a basic HTML report to the provided writer. Source names
// are escaped.
func WriteHTML(w io.Writer, summary Summary) error {
	const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Gleaner Collection Report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>Gleaner Collection Report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "` + timeLayout + `"}} to {{.EndTime.Format "` + timeLayout + `"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Records</div>
    <div class="stat-val">{{.TotalRecords}}</div>
  </div>
  <div class="stat-card">
    <div>Saved</div>
    <div class="stat-val">{{.Saved}}</div>
  </div>
  <div class="stat-card">
    <div>Collected</div>
    <div class="stat-val">{{.Collected}}</div>
  </div>
  <div class="stat-card">
    <div>Deep Collected</div>
    <div class="stat-val">{{.DeepCollected}}</div>
  </div>

  <h3>Records By Source</h3>
  <table>
    <tr><th>Source</th><th>Count</th></tr>
    {{- range .BySource}}
    <tr><td>{{.Source}}</td><td>{{.Count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Tasks By Status</h3>
  <table>
    <tr><th>Status</th><th>Count</th></tr>
    {{- range $status, $count := .TasksByStatus}}
    <tr><td>{{$status}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`
	t, err := htmltemplate.New("htmlReport").Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("report: html template: %w", err)
	}

	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("report: html: %w", err)
	}

	return nil
}

// Write renders summary in format: "text", "json" or "html".
func Write(w io.Writer, format string, summary Summary) error {
	switch format {
	case "", "text":
		return WriteText(w, summary)
	case "json":
		return WriteJSON(w, summary)
	case "html":
		return WriteHTML(w, summary)
	default:
		return fmt.Errorf("report: unknown format %q", format)
	}
}
