package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/fingerprint"
	"github.com/FranksOps/gleaner/internal/params"
	"github.com/FranksOps/gleaner/internal/scraper"
	"github.com/FranksOps/gleaner/internal/search"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/pkg/ratelimit"
)

func testFetcher(t *testing.T) *scraper.Fetcher {
	t.Helper()
	f, err := scraper.NewFetcher(scraper.FetchConfig{
		Timeout:      5 * time.Second,
		UseCookieJar: true,
		Fingerprint:  fingerprint.ProfileGo,
	})
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	return f
}

func html(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, body)
}

func TestWebsiteStrategy(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><head><title>Home</title></head><body>
<p>Welcome. Nothing relevant here.</p>
<a href="/go">go</a><a href="/rust">rust</a></body></html>`)
	})
	mux.HandleFunc("/go", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><head><title>Go 并发</title></head><body>
<p>Goroutines are cheap. 并发是 Go 的特色。Channels connect them.</p></body></html>`)
	})
	mux.HandleFunc("/rust", func(w http.ResponseWriter, r *http.Request) {
		html(w, `<html><head><title>Rust</title></head><body><p>Ownership rules.</p></body></html>`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	s := NewWebsiteStrategy(testFetcher(t), false, "", 1, slog.Default())
	out, err := s.Collect(context.Background(), Job{
		Source: &storage.Source{URL: ts.URL + "/", Type: "website"},
		Params: params.Params{"keyword": "并发"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("expected 1 matching page, got %+v", out.Results)
	}
	r := out.Results[0]
	if r.URL != ts.URL+"/go" || r.Title != "Go 并发" {
		t.Errorf("unexpected result %+v", r)
	}
	if r.Content != "Go 并发 并发是 Go 的特色。" {
		t.Errorf("unexpected content %q", r.Content)
	}
}

func TestWebsiteStrategy_RequiresKeyword(t *testing.T) {
	s := NewWebsiteStrategy(testFetcher(t), false, "", 1, slog.Default())
	if _, err := s.Collect(context.Background(), Job{Source: &storage.Source{URL: "http://127.0.0.1:1/"}, Params: params.Params{}}); err == nil {
		t.Errorf("expected error without keyword")
	}
}

func TestSitemapStrategy(t *testing.T) {
	var base string
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%[1]s/blog/golang-tips</loc></url>
  <url><loc>%[1]s/blog/rust-tips</loc></url>
  <url><loc>%[1]s/blog/%%E7%%BC%%96%%E7%%A8%%8B-golang</loc></url>
  <url><loc>%[1]s/blog/golang-missing</loc></url>
</urlset>`, base)
	})
	mux.HandleFunc("/blog/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/blog/golang-tips":
			html(w, `<html><head><title>Golang tips</title><meta name="description" content="Ten tips."></head><body></body></html>`)
		case "/blog/编程-golang":
			html(w, `<html><head><title>编程</title></head><body><p>First paragraph.</p></body></html>`)
		default:
			http.NotFound(w, r)
		}
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()
	base = ts.URL

	s := NewSitemapStrategy(testFetcher(t), slog.Default())
	out, err := s.Collect(context.Background(), Job{
		Source: &storage.Source{URL: ts.URL + "/sitemap.xml", Type: "sitemap"},
		Params: params.Params{"keyword": "GoLang", "limit": 3.0},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out.Results) != 3 {
		t.Fatalf("expected 3 results, got %+v", out.Results)
	}
	if out.Results[0].Title != "Golang tips" || out.Results[0].Content != "Ten tips." {
		t.Errorf("unexpected first result %+v", out.Results[0])
	}
	if out.Results[1].Title != "编程" || out.Results[1].Content != "First paragraph." {
		t.Errorf("unexpected second result %+v", out.Results[1])
	}
	// Unfetchable pages keep their location as title.
	if out.Results[2].Title != ts.URL+"/blog/golang-missing" {
		t.Errorf("unexpected third result %+v", out.Results[2])
	}
}

func TestSearchStrategy_ReusesClient(t *testing.T) {
	var home, searches atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) { home.Add(1) })
	mux.HandleFunc("/s", func(w http.ResponseWriter, r *http.Request) {
		searches.Add(1)
		if r.Header.Get("X-Source") != "stored" {
			t.Errorf("expected stored header on search request")
		}
		html(w, `<div class="c-container"><h3><a href="https://r.example/1">R1</a></h3><div class="c-abstract">abs</div></div>`)
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	var built atomic.Int32
	s := NewSearchStrategy(func(src *storage.Source) (*scraper.Fetcher, error) {
		built.Add(1)
		return testFetcher(t), nil
	}, ratelimit.NoPause, slog.Default())

	src := &storage.Source{ID: "s1", Name: "engine", URL: ts.URL + "/s", Type: DefaultSearchTag, RetryCount: 2}
	job := Job{Source: src, Params: params.Params{"keyword": "go"}, Headers: map[string]string{"X-Source": "stored"}}

	for i := 0; i < 2; i++ {
		out, err := s.Collect(context.Background(), job)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(out.Results) != 1 || out.Results[0].Abstract != "abs" {
			t.Errorf("unexpected output %+v", out)
		}
	}
	if built.Load() != 1 || home.Load() != 1 {
		t.Errorf("expected one client and one warm-up, got %d clients and %d warm-ups", built.Load(), home.Load())
	}

	src.UpdatedAt = time.Now()
	_, _ = s.Collect(context.Background(), job)
	if built.Load() != 2 {
		t.Errorf("expected a new client after the source changed, got %d", built.Load())
	}
}

func TestLocMatches(t *testing.T) {
	loc := "https://blog.example/%E7%BC%96%E7%A8%8B-intro"
	if !locMatches(loc, "编程") {
		t.Errorf("expected percent-encoded location to match")
	}
	if !locMatches("https://blog.example/GoLang", "golang") {
		t.Errorf("expected case-insensitive match")
	}
	if locMatches("https://blog.example/rust", "golang") {
		t.Errorf("unexpected match")
	}
}

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		name   string
		source time.Duration
		want   time.Duration
	}{
		{"unset", 0, search.DefaultTimeout},
		{"source default", 10 * time.Second, search.DefaultTimeout},
		{"shorter source", 2 * time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := requestTimeout(&storage.Source{Timeout: tt.source}); got != tt.want {
				t.Errorf("requestTimeout(%s) = %s, want %s", tt.source, got, tt.want)
			}
		})
	}
}
