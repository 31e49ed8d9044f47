package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/app"
	"github.com/FranksOps/gleaner/internal/config"
	"github.com/FranksOps/gleaner/internal/storage"
)

type fixture struct {
	app *app.App
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Storage.DSN = ":memory:"
	cfg.LLM.APIKey = ""

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	srv := httptest.NewServer(NewRouter(Deps{
		Store:   a.Store,
		Tasks:   a.Tasks,
		Sources: a.Sources,
		Deep:    a.Deep,
		Models:  a.Analyzer,
	}, logger))
	t.Cleanup(func() {
		srv.Close()
		_ = a.Close(context.Background())
	})
	return &fixture{app: a, srv: srv}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func (f *fixture) seedRecords(t *testing.T, taskID string, recs ...*storage.Record) {
	t.Helper()
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, r := range recs {
		r.TaskID = taskID
		r.CollectedAt = base.Add(time.Duration(i) * time.Minute)
	}
	if _, err := f.app.Store.InsertRecords(context.Background(), recs); err != nil {
		t.Fatalf("InsertRecords: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/healthz", nil)
	if code != http.StatusOK || body["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, body)
	}
}

func TestUnknownRouteIsEnvelope(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/nope", nil)
	if code != http.StatusNotFound || body["success"] != false {
		t.Errorf("got %d %v", code, body)
	}
}

func TestStartCollectionValidation(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]any{
		"empty keyword": map[string]any{"keyword": "  ", "crawlers": []string{"baidu_search"}},
		"no crawlers":   map[string]any{"keyword": "golang"},
		"bad json":      "{",
	} {
		t.Run(name, func(t *testing.T) {
			code, out := f.do(t, http.MethodPost, "/api/collection/start", body)
			if code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", code)
			}
			if out["success"] != false || out["error"] == "" {
				t.Errorf("body = %v", out)
			}
		})
	}
}

func TestStartCollectionAndPoll(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodPost, "/api/collection/start", map[string]any{
		"keyword":  "golang",
		"crawlers": []string{"baidu_search"},
		"page":     "2",
		"limit":    5,
	})
	if code != http.StatusOK {
		t.Fatalf("start = %d %v", code, out)
	}
	id, _ := out["task_id"].(string)
	if id == "" {
		t.Fatalf("no task_id in %v", out)
	}

	code, out = f.do(t, http.MethodGet, "/api/collection/results/"+id, nil)
	if code != http.StatusOK || out["success"] != true {
		t.Fatalf("results = %d %v", code, out)
	}
	if _, ok := out["status"].(string); !ok {
		t.Errorf("status missing: %v", out)
	}
	if _, ok := out["results"].([]any); !ok {
		t.Errorf("results should be a list: %v", out["results"])
	}
}

func TestCollectionUnknownTask(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodGet, "/api/collection/results/missing", nil)
	if code != http.StatusNotFound || out["success"] != false {
		t.Errorf("results = %d %v", code, out)
	}
	code, _ = f.do(t, http.MethodPost, "/api/collection/stop/missing", nil)
	if code != http.StatusNotFound {
		t.Errorf("stop = %d, want 404", code)
	}
}

func TestStopReportsActualStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		status storage.TaskStatus
		want   storage.TaskStatus
		msg    string
	}{
		{storage.TaskPending, storage.TaskStopped, "采集任务已停止"},
		{storage.TaskStopped, storage.TaskStopped, "采集任务已停止"},
		{storage.TaskCompleted, storage.TaskCompleted, "采集任务已完成，无需停止"},
		{storage.TaskFailed, storage.TaskFailed, "采集任务已失败，无需停止"},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			task := &storage.Task{Name: "t", Status: tt.status}
			if err := f.app.Store.CreateTask(ctx, task); err != nil {
				t.Fatalf("CreateTask: %v", err)
			}
			code, out := f.do(t, http.MethodPost, "/api/collection/stop/"+task.ID, nil)
			if code != http.StatusOK {
				t.Fatalf("stop = %d %v", code, out)
			}
			if out["status"] != string(tt.want) || out["message"] != tt.msg {
				t.Errorf("got status %v message %v, want %s %q", out["status"], out["message"], tt.want, tt.msg)
			}
		})
	}
}

func TestSourcesCRUD(t *testing.T) {
	f := newFixture(t)
	create := map[string]any{
		"name":           "新闻站",
		"url":            "https://news.example.com/",
		"source_type":    "website",
		"request_params": `{"q":"x"}`,
		"headers":        map[string]string{"Referer": "https://example.com"},
		"crawl_interval": 600,
	}
	code, out := f.do(t, http.MethodPost, "/api/sources", create)
	if code != http.StatusOK {
		t.Fatalf("create = %d %v", code, out)
	}
	id, _ := out["config_id"].(string)
	src := out["source"].(map[string]any)
	if src["request_method"] != "GET" || src["enabled"] != true || src["crawl_interval"] != float64(600) {
		t.Errorf("defaults not applied: %v", src)
	}
	if params, ok := src["request_params"].(map[string]any); !ok || params["q"] != "x" {
		t.Errorf("request_params = %v", src["request_params"])
	}

	code, _ = f.do(t, http.MethodPost, "/api/sources", create)
	if code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", code)
	}

	code, out = f.do(t, http.MethodPost, "/api/sources", map[string]any{"name": "bad", "url": "ftp://x"})
	if code != http.StatusBadRequest {
		t.Errorf("bad url = %d %v", code, out)
	}

	code, out = f.do(t, http.MethodPut, "/api/sources/"+id, map[string]any{"enabled": false})
	if code != http.StatusOK {
		t.Fatalf("update = %d %v", code, out)
	}
	if got := out["source"].(map[string]any); got["enabled"] != false || got["name"] != "新闻站" {
		t.Errorf("partial update = %v", got)
	}

	_, out = f.do(t, http.MethodGet, "/api/sources?enabled=true", nil)
	if out["total"] != float64(0) {
		t.Errorf("enabled sources = %v", out["total"])
	}

	code, _ = f.do(t, http.MethodDelete, "/api/sources/"+id, nil)
	if code != http.StatusOK {
		t.Errorf("delete = %d", code)
	}
	code, _ = f.do(t, http.MethodGet, "/api/sources/"+id, nil)
	if code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", code)
	}
}

func TestImportSources(t *testing.T) {
	f := newFixture(t)
	doc := `sources:
  - name: 站点地图
    url: https://example.com/sitemap.xml
    source_type: sitemap
`
	code, out := f.do(t, http.MethodPost, "/api/sources/import", doc)
	if code != http.StatusOK {
		t.Fatalf("import = %d %v", code, out)
	}
	_, out = f.do(t, http.MethodGet, "/api/sources", nil)
	if out["total"] != float64(1) {
		t.Errorf("total = %v", out["total"])
	}
}

func TestListRecords(t *testing.T) {
	f := newFixture(t)
	f.seedRecords(t, "t1",
		&storage.Record{URL: "https://a.example/1", Title: "Go 并发", Content: "channels", Source: "百度"},
		&storage.Record{URL: "https://a.example/2", Title: "Rust", Content: "ownership", Source: "百度"},
		&storage.Record{URL: "https://a.example/3", Title: "Go 泛型", Content: "type params", Source: "必应"},
	)

	code, out := f.do(t, http.MethodGet, "/api/data?per_page=2", nil)
	if code != http.StatusOK {
		t.Fatalf("list = %d %v", code, out)
	}
	if out["total"] != float64(3) || out["pages"] != float64(2) || out["per_page"] != float64(2) {
		t.Errorf("paging = %v", out)
	}
	data := out["data"].([]any)
	if len(data) != 2 {
		t.Fatalf("len(data) = %d", len(data))
	}
	if first := data[0].(map[string]any); first["url"] != "https://a.example/3" {
		t.Errorf("not newest first: %v", first["url"])
	}

	_, out = f.do(t, http.MethodGet, "/api/data?search=Go", nil)
	if out["total"] != float64(2) {
		t.Errorf("search total = %v", out["total"])
	}
	_, out = f.do(t, http.MethodGet, "/api/data?source=必应", nil)
	if out["total"] != float64(1) {
		t.Errorf("source total = %v", out["total"])
	}
}

func TestDeleteRecords(t *testing.T) {
	f := newFixture(t)
	a := &storage.Record{URL: "https://a.example/1"}
	b := &storage.Record{URL: "https://a.example/2"}
	c := &storage.Record{URL: "https://a.example/3"}
	f.seedRecords(t, "t1", a, b, c)

	code, _ := f.do(t, http.MethodDelete, "/api/data/"+a.ID, nil)
	if code != http.StatusOK {
		t.Errorf("delete = %d", code)
	}
	code, _ = f.do(t, http.MethodDelete, "/api/data/"+a.ID, nil)
	if code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}

	code, _ = f.do(t, http.MethodPost, "/api/data/batch_delete", map[string]any{"data_ids": []string{}})
	if code != http.StatusBadRequest {
		t.Errorf("empty batch = %d, want 400", code)
	}
	code, out := f.do(t, http.MethodPost, "/api/data/batch_delete", map[string]any{"data_ids": []string{b.ID, c.ID, "missing"}})
	if code != http.StatusOK || out["deleted"] != float64(2) {
		t.Errorf("batch delete = %d %v", code, out)
	}
}

func TestExportCSV(t *testing.T) {
	f := newFixture(t)
	f.seedRecords(t, "t1", &storage.Record{URL: "https://a.example/1", Title: "标题"})

	resp, err := http.Get(f.srv.URL + "/api/data/export?task_id=t1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q", ct)
	}
	raw, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(raw), "https://a.example/1") || !strings.Contains(string(raw), "标题") {
		t.Errorf("export body = %q", raw)
	}

	code, _ := f.do(t, http.MethodGet, "/api/data/export?format=xml", nil)
	if code != http.StatusBadRequest {
		t.Errorf("bad format = %d, want 400", code)
	}
}

func TestDeepCollectUnknownRecord(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodPost, "/api/data/deep_collect/missing", nil)
	if code != http.StatusNotFound || out["success"] != false {
		t.Errorf("deep collect = %d %v", code, out)
	}

	code, out = f.do(t, http.MethodPost, "/api/data/batch_deep_collect", map[string]any{"data_ids": []string{"missing"}})
	if code != http.StatusOK {
		t.Fatalf("batch = %d %v", code, out)
	}
	if out["success_count"] != float64(0) || out["error_count"] != float64(1) {
		t.Errorf("counts = %v", out)
	}
	res := out["results"].([]any)[0].(map[string]any)
	if res["data_id"] != "missing" || res["success"] != false {
		t.Errorf("outcome = %v", res)
	}
}

func TestDeepRecordsEmpty(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodGet, "/api/deep", nil)
	if code != http.StatusOK || out["total"] != float64(0) {
		t.Errorf("list = %d %v", code, out)
	}
	code, _ = f.do(t, http.MethodGet, "/api/deep/missing", nil)
	if code != http.StatusNotFound {
		t.Errorf("get = %d, want 404", code)
	}
}

func TestModelsAndDashboard(t *testing.T) {
	f := newFixture(t)
	code, out := f.do(t, http.MethodGet, "/api/models", nil)
	if code != http.StatusOK {
		t.Fatalf("models = %d", code)
	}
	if _, ok := out["models"].([]any); !ok {
		t.Errorf("models = %v", out["models"])
	}

	f.seedRecords(t, "t1",
		&storage.Record{URL: "https://a.example/1", Source: "百度"},
		&storage.Record{URL: "https://a.example/2", Source: "百度"},
	)
	code, out = f.do(t, http.MethodGet, "/api/dashboard", nil)
	if code != http.StatusOK {
		t.Fatalf("dashboard = %d %v", code, out)
	}
	summary := out["summary"].(map[string]any)
	if summary["total_records"] != float64(2) {
		t.Errorf("total_records = %v", summary["total_records"])
	}
}
