// Package search drives a web search engine's result pages: session warm-up,
// bounded retry and result parsing.
package search

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/internal/params"
	"github.com/FranksOps/gleaner/internal/scraper"
	"github.com/FranksOps/gleaner/pkg/ratelimit"
)

const (
	DefaultSearchURL  = "https://www.baidu.com/s"
	DefaultHomeURL    = "https://www.baidu.com/"
	DefaultTimeout    = 5 * time.Second
	DefaultRetryCount = 3
	DefaultLimit      = 10
	DefaultKeyword    = "Python"

	// resultsPerPage is the engine's fixed page size used to derive offsets.
	resultsPerPage = 10
)

// Result is one organic search result.
type Result struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	Abstract string `json:"abstract,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Outcome is the result of a retried search.
type Outcome struct {
	Results  []Result
	Attempts int
	// TransportExhausted is set when every attempt failed at the transport
	// level (timeouts, HTTP errors or bot challenges) rather than returning
	// a page with no results.
	TransportExhausted bool
}

// Config configures a Client.
type Config struct {
	SearchURL  string
	HomeURL    string
	Timeout    time.Duration
	RetryCount int
	Selectors  Selectors
	// Headers are sent with every request.
	Headers map[string]string
	// Pause sleeps for a random duration; tests inject ratelimit.NoPause.
	Pause ratelimit.PauseFunc
}

// Client issues search result page requests over one cookie session.
type Client struct {
	cfg     Config
	fetcher *scraper.Fetcher
	logger  *slog.Logger
	engine  string

	warmMu sync.Mutex
	warmed bool
}

// NewClient returns a Client. fetcher should keep cookies so the warm-up
// session carries over to searches.
func NewClient(cfg Config, fetcher *scraper.Fetcher, logger *slog.Logger) *Client {
	if cfg.SearchURL == "" {
		cfg.SearchURL = DefaultSearchURL
	}
	if cfg.HomeURL == "" {
		cfg.HomeURL = DefaultHomeURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryCount <= 0 {
		cfg.RetryCount = DefaultRetryCount
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors
	}
	if cfg.Pause == nil {
		cfg.Pause = ratelimit.Pause
	}
	if logger == nil {
		logger = slog.Default()
	}

	engine := cfg.SearchURL
	if u, err := url.Parse(cfg.SearchURL); err == nil && u.Hostname() != "" {
		engine = u.Hostname()
	}

	return &Client{cfg: cfg, fetcher: fetcher, logger: logger, engine: engine}
}

// WarmUp requests the engine home page once per client to pick up session
// cookies, then pauses 0.5 to 1.2s. Failures are logged and ignored.
func (c *Client) WarmUp(ctx context.Context) {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()
	if c.warmed {
		return
	}
	c.warmed = true

	page, err := c.fetcher.Do(ctx, scraper.Request{
		URL:     c.cfg.HomeURL,
		Headers: c.cfg.Headers,
		Timeout: c.cfg.Timeout,
	})
	if err != nil {
		c.logger.Debug("search warm-up failed", "engine", c.engine, "err", err)
		return
	}
	c.logger.Debug("search warm-up done", "engine", c.engine, "status", page.StatusCode)
	_ = c.cfg.Pause(ctx, 500*time.Millisecond, 1200*time.Millisecond)
}

// Search fetches one result page. Any failure yields an empty list and a log
// line.
func (c *Client) Search(ctx context.Context, keyword string, page, limit int) []Result {
	results, _ := c.search(ctx, keyword, page, limit)
	return results
}

// search reports transportFailed when no usable result page was received.
func (c *Client) search(ctx context.Context, keyword string, page, limit int) (results []Result, transportFailed bool) {
	c.WarmUp(ctx)

	if page < 1 {
		page = 1
	}
	start := time.Now()
	p, err := c.fetcher.Do(ctx, scraper.Request{
		URL: c.cfg.SearchURL,
		Query: url.Values{
			"wd": {keyword},
			"pn": {strconv.Itoa((page - 1) * resultsPerPage)},
			"ie": {"utf-8"},
		},
		Headers: c.cfg.Headers,
		Timeout: c.cfg.Timeout,
	})
	metrics.SearchDuration.WithLabelValues(c.engine).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.SearchRequestsTotal.WithLabelValues(c.engine, "error").Inc()
		c.logger.Warn("search request failed", "engine", c.engine, "keyword", keyword, "page", page, "err", err)
		return nil, true
	case p.Challenged:
		metrics.SearchRequestsTotal.WithLabelValues(c.engine, "challenged").Inc()
		c.logger.Warn("search request challenged", "engine", c.engine, "keyword", keyword, "challenge", p.ChallengeSource)
		return nil, true
	case p.StatusCode >= 400:
		metrics.SearchRequestsTotal.WithLabelValues(c.engine, "error").Inc()
		c.logger.Warn("search request failed", "engine", c.engine, "keyword", keyword, "page", page, "status", p.StatusCode)
		return nil, true
	}

	results, err = Parse(p.Body, c.cfg.Selectors, limit)
	if err != nil {
		metrics.SearchRequestsTotal.WithLabelValues(c.engine, "error").Inc()
		c.logger.Warn("search page unparseable", "engine", c.engine, "keyword", keyword, "err", err)
		return nil, false
	}
	outcome := "ok"
	if len(results) == 0 {
		outcome = "empty"
	}
	metrics.SearchRequestsTotal.WithLabelValues(c.engine, outcome).Inc()
	c.logger.Debug("search page parsed", "engine", c.engine, "keyword", keyword, "page", page, "results", len(results))
	return results, false
}

// SearchWithRetry calls Search up to RetryCount times, returning the first
// non-empty list. Attempts are separated by a random 1 to 3s pause.
func (c *Client) SearchWithRetry(ctx context.Context, keyword string, page, limit int) Outcome {
	var out Outcome
	exhausted := true
	for i := 0; i < c.cfg.RetryCount; i++ {
		out.Attempts++
		results, transportFailed := c.search(ctx, keyword, page, limit)
		if len(results) > 0 {
			out.Results = results
			return out
		}
		if !transportFailed {
			exhausted = false
		}
		if i < c.cfg.RetryCount-1 {
			c.logger.Info("search returned nothing, retrying", "engine", c.engine, "keyword", keyword, "attempt", i+2, "of", c.cfg.RetryCount)
			if err := c.cfg.Pause(ctx, time.Second, 3*time.Second); err != nil {
				break
			}
		}
	}
	out.TransportExhausted = exhausted
	return out
}

// Run resolves keyword, page and limit from p and runs SearchWithRetry. The
// term is read from "wd" or "query" before "keyword"; the page from "page",
// else derived from the zero-based offset "pn".
func (c *Client) Run(ctx context.Context, p params.Params) Outcome {
	keyword := p.First(DefaultKeyword, "wd", "query", "keyword")
	page := p.Int("page", p.Int("pn", 0)/resultsPerPage+1)
	limit := p.Int("limit", DefaultLimit)
	c.logger.Debug("search run", "engine", c.engine, "keyword", keyword, "page", page, "limit", limit)
	return c.SearchWithRetry(ctx, keyword, page, limit)
}
