package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/FranksOps/gleaner/internal/scraper"
)

// Sitemap strategy defaults.
const (
	DefaultSitemapLimit = 10
	// maxSitemapEntries caps how much of a large sitemap is scanned.
	maxSitemapEntries = 50000
)

// SitemapStrategy reads the source URL as a sitemap (or index) and keeps
// entries whose location mentions the keyword, fetching each for a title
// and summary.
type SitemapStrategy struct {
	fetcher *scraper.Fetcher
	sitemap *scraper.SitemapFetcher
	logger  *slog.Logger
}

// NewSitemapStrategy returns a SitemapStrategy using fetcher.
func NewSitemapStrategy(fetcher *scraper.Fetcher, logger *slog.Logger) *SitemapStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &SitemapStrategy{
		fetcher: fetcher,
		sitemap: scraper.NewSitemapFetcher(fetcher, logger),
		logger:  logger,
	}
}

// Collect returns up to limit matching entries in sitemap order.
func (s *SitemapStrategy) Collect(ctx context.Context, job Job) (Output, error) {
	keyword := strings.ToLower(job.Keyword())
	if keyword == "" {
		return Output{}, errors.New("sitemap: keyword is required")
	}
	limit := job.Limit(DefaultSitemapLimit)

	entries, err := s.sitemap.Entries(ctx, job.Source.URL, maxSitemapEntries)
	if err != nil {
		return Output{}, fmt.Errorf("sitemap: %w", err)
	}

	var out Output
	for _, e := range entries {
		if len(out.Results) >= limit || ctx.Err() != nil {
			break
		}
		if !locMatches(e.Loc, keyword) {
			continue
		}
		r := Raw{URL: e.Loc, Title: e.Loc, Timestamp: e.LastMod}
		s.describe(ctx, &r)
		out.Results = append(out.Results, r)
	}
	return out, ctx.Err()
}

// describe fills title and content from the page; failures keep the
// location as title.
func (s *SitemapStrategy) describe(ctx context.Context, r *Raw) {
	page, err := s.fetcher.Get(ctx, r.URL)
	if err != nil || !page.OK() {
		s.logger.Debug("sitemap entry not fetched", "url", r.URL, "err", err)
		return
	}
	ext, err := scraper.Extract(page.FinalURL, page.Body)
	if err != nil {
		return
	}
	if ext.Title != "" {
		r.Title = ext.Title
	}
	r.Content = ext.Description
	if r.Content == "" && len(ext.Paragraphs) > 0 {
		r.Content = truncate(ext.Paragraphs[0], maxContentRunes)
	}
}

func locMatches(loc, keyword string) bool {
	if strings.Contains(strings.ToLower(loc), keyword) {
		return true
	}
	if decoded, err := url.PathUnescape(loc); err == nil {
		return strings.Contains(strings.ToLower(decoded), keyword)
	}
	return false
}
