package app

import (
	"context"
	"log/slog"
	"slices"
	"testing"

	"github.com/FranksOps/gleaner/internal/config"
	"github.com/FranksOps/gleaner/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	cfg.Storage.DSN = ":memory:"
	cfg.LLM.APIKey = ""
	return cfg
}

func TestNewWiresStrategies(t *testing.T) {
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(context.Background())

	tags := a.Orchestrator.Registered()
	for _, want := range []string{cfg.Search.Tag, WebsiteTag, SitemapTag} {
		if !slices.Contains(tags, want) {
			t.Errorf("strategy %q not registered, have %v", want, tags)
		}
	}
}

func TestSourceChangesReachRegistry(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(context.Background())
	ctx := context.Background()

	if _, err := a.Registry.All(ctx, false); err != nil {
		t.Fatalf("All: %v", err)
	}
	before := a.Registry.Version()

	src := &storage.Source{Name: "搜索", URL: "https://www.baidu.com/s", Type: "baidu_search", Enabled: true}
	if err := a.Sources.Create(ctx, src); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := a.Registry.ByType(ctx, "baidu_search")
	if err != nil {
		t.Fatalf("ByType: %v", err)
	}
	if len(got) != 1 || got[0].ID != src.ID {
		t.Errorf("registry did not pick up new source: %+v", got)
	}
	if a.Registry.Version() == before {
		t.Error("registry version did not change")
	}
}

func TestSearchFetcherPerSource(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), slog.Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close(context.Background())

	f, err := a.SearchFetcher(&storage.Source{Timeout: 0})
	if err != nil || f == nil {
		t.Fatalf("SearchFetcher: %v", err)
	}
}

func TestOpenStoreRejectsUnknownDriver(t *testing.T) {
	if _, err := OpenStore(context.Background(), config.Storage{Driver: "mysql", DSN: "x"}); err == nil {
		t.Error("expected error for unknown driver")
	}
}
