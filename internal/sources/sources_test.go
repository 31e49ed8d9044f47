package sources

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/internal/storage/sqlite"
)

type countingCache struct{ n int }

func (c *countingCache) Invalidate() { c.n++ }

func newService(t *testing.T) (*Service, *countingCache) {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	cache := &countingCache{}
	return NewService(store, cache, slog.Default()), cache
}

func TestCreateAppliesDefaults(t *testing.T) {
	svc, cache := newService(t)
	ctx := context.Background()

	src := &storage.Source{Name: "新闻站", URL: "https://news.example.com/list"}
	if err := svc.Create(ctx, src); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := svc.Get(ctx, src.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Type != "website" || got.Method != "GET" {
		t.Errorf("type/method = %q/%q", got.Type, got.Method)
	}
	if got.Params != "{}" || got.Headers != "{}" {
		t.Errorf("params/headers = %q/%q", got.Params, got.Headers)
	}
	if got.CrawlInterval != time.Hour || got.Timeout != 10*time.Second || got.RetryCount != 3 {
		t.Errorf("interval/timeout/retry = %v/%v/%d", got.CrawlInterval, got.Timeout, got.RetryCount)
	}
	if cache.n != 1 {
		t.Errorf("invalidations = %d, want 1", cache.n)
	}
}

func TestCreateValidation(t *testing.T) {
	svc, cache := newService(t)
	ctx := context.Background()

	bad := []*storage.Source{
		{Name: "", URL: "https://a.example.com"},
		{Name: strings.Repeat("名", 51), URL: "https://a.example.com"},
		{Name: "x", URL: "ftp://a.example.com"},
		{Name: "x", URL: "/relative/path"},
		{Name: "x", URL: "https://localhost"},
		{Name: "x", URL: "https://a.example.com", Method: "DELETE"},
		{Name: "x", URL: "https://a.example.com", Params: "[1,2]"},
		{Name: "x", URL: "https://a.example.com", Headers: "{oops"},
		{Name: "x", URL: "https://a.example.com", Params: "null"},
		{Name: "x", URL: "https://a.example.com", Headers: " null "},
	}
	for _, src := range bad {
		if err := svc.Create(ctx, src); !errors.Is(err, ErrInvalid) {
			t.Errorf("Create(%q, %q) error = %v, want ErrInvalid", src.Name, src.URL, err)
		}
	}
	if cache.n != 0 {
		t.Errorf("invalidations = %d, want 0", cache.n)
	}

	ok := &storage.Source{Name: strings.Repeat("名", 50), URL: "http://127.0.0.1:8080/s?wd=x", Method: "post"}
	if err := svc.Create(ctx, ok); err != nil {
		t.Fatalf("Create at name limit: %v", err)
	}
	if ok.Method != "POST" {
		t.Errorf("method = %q, want POST", ok.Method)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	if err := svc.Create(ctx, &storage.Source{Name: "dup", URL: "https://a.example.com"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := svc.Create(ctx, &storage.Source{Name: "dup", URL: "https://b.example.com"})
	if !errors.Is(err, storage.ErrDuplicateName) {
		t.Errorf("error = %v, want ErrDuplicateName", err)
	}
}

func TestUpdatePartial(t *testing.T) {
	svc, cache := newService(t)
	ctx := context.Background()

	src := &storage.Source{Name: "one", URL: "https://a.example.com", Params: `{"wd":"go"}`, Description: "first"}
	if err := svc.Create(ctx, src); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := svc.Create(ctx, &storage.Source{Name: "two", URL: "https://b.example.com"}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	disabled := false
	timeout := 5 * time.Second
	got, err := svc.Update(ctx, src.ID, Patch{Enabled: &disabled, Timeout: &timeout})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Enabled || got.Timeout != timeout {
		t.Errorf("enabled/timeout = %v/%v", got.Enabled, got.Timeout)
	}
	if got.Name != "one" || got.Params != `{"wd":"go"}` || got.Description != "first" {
		t.Errorf("untouched fields changed: %+v", got)
	}

	taken := "two"
	if _, err := svc.Update(ctx, src.ID, Patch{Name: &taken}); !errors.Is(err, storage.ErrDuplicateName) {
		t.Errorf("rename to taken name error = %v, want ErrDuplicateName", err)
	}
	badURL := "nope"
	if _, err := svc.Update(ctx, src.ID, Patch{URL: &badURL}); !errors.Is(err, ErrInvalid) {
		t.Errorf("bad url error = %v, want ErrInvalid", err)
	}
	if _, err := svc.Update(ctx, "missing", Patch{}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing id error = %v, want ErrNotFound", err)
	}
	if cache.n != 3 {
		t.Errorf("invalidations = %d, want 3", cache.n)
	}
}

func TestDeleteAndList(t *testing.T) {
	svc, cache := newService(t)
	ctx := context.Background()

	a := &storage.Source{Name: "a", URL: "https://a.example.com", Enabled: true}
	b := &storage.Source{Name: "b", URL: "https://b.example.com"}
	for _, s := range []*storage.Source{a, b} {
		if err := svc.Create(ctx, s); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	enabled, err := svc.List(ctx, true)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(enabled) != 1 || enabled[0].Name != "a" {
		t.Errorf("enabled sources = %+v, want only a", enabled)
	}

	if err := svc.Delete(ctx, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	all, err := svc.List(ctx, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].Name != "b" {
		t.Errorf("remaining = %+v", all)
	}
	if err := svc.Delete(ctx, a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("second delete error = %v, want ErrNotFound", err)
	}
	if cache.n != 3 {
		t.Errorf("invalidations = %d, want 3", cache.n)
	}
}

const seedYAML = `
sources:
  - name: 百度搜索
    url: https://www.baidu.com/s
    source_type: baidu_search
    params:
      ie: utf-8
    headers:
      Referer: https://www.baidu.com/
    timeout: 5s
  - name: 博客
    url: https://blog.example.com/sitemap.xml
    source_type: sitemap
    enabled: false
`

func TestImportCreatesThenUpdates(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o644); err != nil {
		t.Fatalf("write seeds: %v", err)
	}

	res, err := svc.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if res.Created != 2 || res.Updated != 0 {
		t.Errorf("first import = %+v", res)
	}

	res, err = svc.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile again: %v", err)
	}
	if res.Created != 0 || res.Updated != 2 {
		t.Errorf("second import = %+v", res)
	}

	all, err := svc.List(ctx, false)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("sources = %d, want 2", len(all))
	}
	byName := map[string]*storage.Source{}
	for _, s := range all {
		byName[s.Name] = s
	}
	search := byName["百度搜索"]
	if search == nil || search.Type != "baidu_search" || search.Timeout != 5*time.Second || !search.Enabled {
		t.Errorf("search source = %+v", search)
	}
	if search != nil && search.Params != `{"ie":"utf-8"}` {
		t.Errorf("params = %q", search.Params)
	}
	if s := byName["博客"]; s == nil || s.Enabled {
		t.Errorf("sitemap source = %+v", s)
	}
}

func TestImportRejectsWholeFileOnInvalidSeed(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	seeds, err := ParseSeeds(strings.NewReader(`
sources:
  - name: ok
    url: https://ok.example.com
  - name: bad
    url: not-a-url
`))
	if err != nil {
		t.Fatalf("ParseSeeds: %v", err)
	}
	if _, err := svc.Import(ctx, seeds); !errors.Is(err, ErrInvalid) {
		t.Fatalf("Import error = %v, want ErrInvalid", err)
	}
	all, _ := svc.List(ctx, false)
	if len(all) != 0 {
		t.Errorf("sources written = %d, want 0", len(all))
	}
}

func TestParseSeedsRejectsUnknownFields(t *testing.T) {
	if _, err := ParseSeeds(strings.NewReader("sources:\n  - name: x\n    urll: y\n")); err == nil {
		t.Error("expected error for unknown field")
	}
}
