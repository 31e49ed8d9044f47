package collector

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/FranksOps/gleaner/internal/analyzer"
	"github.com/FranksOps/gleaner/internal/scraper"
)

// Website crawl defaults.
const (
	DefaultWebsiteDepth = 1
	DefaultWebsiteLimit = 10
	// pagesPerResult bounds fetches relative to the requested limit.
	pagesPerResult  = 5
	maxSentences    = 3
	maxContentRunes = 500
)

// WebsiteStrategy crawls a site from the source URL and keeps pages whose
// text mentions the keyword. Content is the matching sentences.
type WebsiteStrategy struct {
	fetcher       *scraper.Fetcher
	respectRobots bool
	userAgent     string
	concurrency   int
	logger        *slog.Logger
}

// NewWebsiteStrategy returns a WebsiteStrategy crawling with fetcher.
func NewWebsiteStrategy(fetcher *scraper.Fetcher, respectRobots bool, userAgent string, concurrency int, logger *slog.Logger) *WebsiteStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebsiteStrategy{
		fetcher:       fetcher,
		respectRobots: respectRobots,
		userAgent:     userAgent,
		concurrency:   concurrency,
		logger:        logger,
	}
}

// Collect crawls up to params "depth" links deep (default 1).
func (w *WebsiteStrategy) Collect(ctx context.Context, job Job) (Output, error) {
	keyword := job.Keyword()
	if keyword == "" {
		return Output{}, errors.New("website: keyword is required")
	}
	limit := job.Limit(DefaultWebsiteLimit)
	depth := job.Params.Int("depth", DefaultWebsiteDepth)
	if depth < 0 {
		depth = 0
	}

	var (
		mu      sync.Mutex
		results []Raw
	)
	crawler := scraper.NewCrawler(scraper.CrawlConfig{
		MaxDepth:      depth,
		MaxPages:      limit * pagesPerResult,
		Concurrency:   w.concurrency,
		RespectRobots: w.respectRobots,
		UserAgent:     w.userAgent,
		OnPage: func(ctx context.Context, page *scraper.Page, ext *scraper.Extracted, _ int) bool {
			if ext == nil {
				return true
			}
			text := ext.Text()
			if ext.Description != "" {
				text = ext.Description + "\n" + text
			}
			sentences := analyzer.MatchingSentences(ext.Title+"\n"+text, keyword, maxSentences)
			if len(sentences) == 0 {
				return true
			}
			mu.Lock()
			defer mu.Unlock()
			if len(results) >= limit {
				return false
			}
			title := ext.Title
			if title == "" {
				title = page.FinalURL
			}
			results = append(results, Raw{
				URL:     page.FinalURL,
				Title:   title,
				Content: truncate(strings.Join(sentences, " "), maxContentRunes),
			})
			return len(results) < limit
		},
	}, w.fetcher, w.logger)

	if err := crawler.Run(ctx, []string{job.Source.URL}); err != nil {
		return Output{}, err
	}
	return Output{Results: results}, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
