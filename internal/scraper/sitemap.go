package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oxffaa/gopher-parse-sitemap"
)

// DefaultSitemapDepth bounds how deep sitemap indexes are followed.
const DefaultSitemapDepth = 3

// errStopWalk ends a parse early once enough entries were gathered.
var errStopWalk = errors.New("scraper: sitemap walk stopped")

// SitemapEntry is one <url> of a sitemap.
type SitemapEntry struct {
	Loc     string
	LastMod time.Time
}

// SitemapFetcher fetches sitemaps and sitemap indexes.
type SitemapFetcher struct {
	fetcher  *Fetcher
	logger   *slog.Logger
	MaxDepth int
}

// NewSitemapFetcher returns a SitemapFetcher using fetcher.
func NewSitemapFetcher(fetcher *Fetcher, logger *slog.Logger) *SitemapFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapFetcher{
		fetcher:  fetcher,
		logger:   logger,
		MaxDepth: DefaultSitemapDepth,
	}
}

// Entries walks sitemapURL and returns its entries in document order,
// stopping after max entries when max > 0. Nested sitemaps that fail are
// logged and skipped; only a failure of the root sitemap is an error.
func (s *SitemapFetcher) Entries(ctx context.Context, sitemapURL string, max int) ([]SitemapEntry, error) {
	w := &sitemapWalk{max: max, visited: make(map[string]struct{})}
	if err := s.walk(ctx, w, sitemapURL, 0); err != nil {
		return nil, err
	}
	return w.entries, nil
}

type sitemapWalk struct {
	max     int
	visited map[string]struct{}
	entries []SitemapEntry
}

func (w *sitemapWalk) full() bool {
	return w.max > 0 && len(w.entries) >= w.max
}

func (s *SitemapFetcher) walk(ctx context.Context, w *sitemapWalk, sitemapURL string, depth int) error {
	if _, seen := w.visited[sitemapURL]; seen {
		return nil
	}
	w.visited[sitemapURL] = struct{}{}

	s.logger.Debug("fetching sitemap", "url", sitemapURL, "depth", depth)

	page, err := s.fetcher.Get(ctx, sitemapURL)
	if err != nil {
		return fmt.Errorf("scraper: fetch sitemap: %w", err)
	}
	if page.StatusCode >= 400 {
		return fmt.Errorf("scraper: fetch sitemap: bad status code: %d", page.StatusCode)
	}

	before := len(w.entries)
	err = sitemap.Parse(bytes.NewReader(page.Body), func(e sitemap.Entry) error {
		w.entries = append(w.entries, SitemapEntry{Loc: e.GetLocation(), LastMod: lastMod(e.GetLastModified())})
		if w.full() {
			return errStopWalk
		}
		return nil
	})
	if errors.Is(err, errStopWalk) || (err == nil && len(w.entries) > before) {
		return nil
	}

	// Not a urlset; try it as an index.
	var nested []string
	indexErr := sitemap.ParseIndex(bytes.NewReader(page.Body), func(e sitemap.IndexEntry) error {
		nested = append(nested, e.GetLocation())
		return nil
	})
	if indexErr != nil || len(nested) == 0 {
		if err == nil {
			err = indexErr
		}
		return fmt.Errorf("scraper: failed to parse as sitemap or index: %w", err)
	}
	if depth >= s.MaxDepth {
		s.logger.Warn("sitemap index too deep, not following", "url", sitemapURL, "depth", depth)
		return nil
	}

	for _, nestedURL := range nested {
		if w.full() || ctx.Err() != nil {
			break
		}
		if err := s.walk(ctx, w, nestedURL, depth+1); err != nil {
			s.logger.Warn("failed to fetch nested sitemap", "url", nestedURL, "err", err)
		}
	}
	return nil
}

func lastMod(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
