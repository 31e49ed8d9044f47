package scraper

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// sitemapSite serves the named XML documents. "{base}" in a document is
// replaced with the server URL.
func sitemapSite(t *testing.T, docs map[string]string) string {
	t.Helper()
	var base string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(strings.ReplaceAll(doc, "{base}", base)))
	}))
	t.Cleanup(srv.Close)
	base = srv.URL
	return base
}

func urlset(locs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		sb.WriteString("<url><loc>" + l + "</loc><lastmod>2024-05-01</lastmod></url>")
	}
	sb.WriteString("</urlset>")
	return sb.String()
}

func index(locs ...string) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?><sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">`)
	for _, l := range locs {
		sb.WriteString("<sitemap><loc>" + l + "</loc></sitemap>")
	}
	sb.WriteString("</sitemapindex>")
	return sb.String()
}

func locs(entries []SitemapEntry) string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Loc
	}
	return strings.Join(out, ",")
}

func TestSitemapEntries(t *testing.T) {
	base := sitemapSite(t, map[string]string{
		"/news.xml": urlset("http://example.com/golang-1", "http://example.com/rust-1", "http://example.com/golang-2"),
		// The index lists itself and a missing child; both are skipped.
		"/index.xml": index("{base}/index.xml", "{base}/a.xml", "{base}/missing.xml", "{base}/b.xml"),
		"/a.xml":     urlset("http://example.com/a1"),
		"/b.xml":     urlset("http://example.com/b1", "http://example.com/b2"),
	})
	sf := NewSitemapFetcher(newTestFetcher(t), slog.Default())
	ctx := context.Background()

	cases := []struct {
		path string
		max  int
		want string
	}{
		{"/news.xml", 0, "http://example.com/golang-1,http://example.com/rust-1,http://example.com/golang-2"},
		{"/news.xml", 2, "http://example.com/golang-1,http://example.com/rust-1"},
		{"/index.xml", 0, "http://example.com/a1,http://example.com/b1,http://example.com/b2"},
		{"/index.xml", 2, "http://example.com/a1,http://example.com/b1"},
	}
	for _, c := range cases {
		entries, err := sf.Entries(ctx, base+c.path, c.max)
		if err != nil {
			t.Fatalf("%s max=%d: %v", c.path, c.max, err)
		}
		if got := locs(entries); got != c.want {
			t.Errorf("%s max=%d: got %s", c.path, c.max, got)
		}
	}
}

func TestSitemapRootFailures(t *testing.T) {
	base := sitemapSite(t, map[string]string{"/bad.xml": "this is not xml"})
	sf := NewSitemapFetcher(newTestFetcher(t), slog.Default())
	ctx := context.Background()

	for _, path := range []string{"/bad.xml", "/absent.xml"} {
		if _, err := sf.Entries(ctx, base+path, 0); err == nil {
			t.Errorf("%s: expected error", path)
		}
	}
}
