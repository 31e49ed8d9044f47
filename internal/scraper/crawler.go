package scraper

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/FranksOps/gleaner/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
)

// PageHandler receives every fetched page. ext is nil for non-HTML pages.
// Returning false stops the crawl.
type PageHandler func(ctx context.Context, page *Page, ext *Extracted, depth int) bool

// CrawlConfig provides parameters for the BFS crawler.
type CrawlConfig struct {
	MaxDepth int
	// MaxPages caps the number of fetches (0 = unlimited).
	MaxPages    int
	Concurrency int
	// In-scope domains. Empty means the hosts of the seeds.
	Domains       []string
	RespectRobots bool
	// UserAgent is the token matched against robots.txt groups.
	UserAgent string
	// RequestsPerSecond limits the fetch rate (0 = unlimited)
	RequestsPerSecond float64
	Jitter            float64
	// QueueSize limits the depth of the internal BFS queue (0 = default 10000)
	QueueSize int
	OnPage    PageHandler
}

// Crawler walks same-site links breadth first from a set of seeds.
type Crawler struct {
	cfg     CrawlConfig
	fetcher *Fetcher
	logger  *slog.Logger
	auditor *RobotsTxtAuditor
	limiter *ratelimit.Limiter

	visitedMu sync.Mutex
	visited   map[string]struct{}
	fetched   atomic.Int64
}

type job struct {
	URL   string
	Depth int
}

// NewCrawler creates a new BFS crawler. A Crawler runs once.
func NewCrawler(cfg CrawlConfig, fetcher *Fetcher, logger *slog.Logger) *Crawler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "*"
	}

	var auditor *RobotsTxtAuditor
	if cfg.RespectRobots {
		auditor = NewRobotsTxtAuditor(fetcher, cfg.UserAgent, logger)
	}

	return &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		logger:  logger,
		auditor: auditor,
		limiter: ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Jitter),
		visited: make(map[string]struct{}),
	}
}

// Run crawls from seeds until the frontier is exhausted, MaxPages is reached
// or the handler stops it. Only cancellation of ctx is reported as an error.
func (c *Crawler) Run(ctx context.Context, seeds []string) error {
	defer c.limiter.Stop()

	if len(c.cfg.Domains) == 0 {
		for _, s := range seeds {
			if u, err := url.Parse(s); err == nil && u.Hostname() != "" {
				c.cfg.Domains = append(c.cfg.Domains, u.Hostname())
			}
		}
	}

	queueSize := c.cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 10000
	}
	if queueSize < len(seeds) {
		queueSize = len(seeds)
	}
	queue := make(chan job, queueSize)

	// Discovered links are added to jobsWg before they are queued so the
	// crawl is idle only once every queued job has been processed.
	var jobsWg sync.WaitGroup
	for _, seed := range seeds {
		if c.visit(seed) {
			jobsWg.Add(1)
			queue <- job{URL: seed, Depth: 0}
		}
	}

	crawlCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(crawlCtx)

	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gCtx.Done():
					return nil
				case j := <-queue:
					if !c.process(gCtx, j, queue, &jobsWg) {
						stop()
					}
					jobsWg.Done()
				}
			}
		})
	}

	done := make(chan struct{})
	go func() {
		jobsWg.Wait()
		close(done)
	}()

	select {
	case <-gCtx.Done():
	case <-done:
	}
	stop()
	_ = g.Wait()
	// Release jobs abandoned by an early stop so the waiter exits.
	for {
		select {
		case <-queue:
			jobsWg.Done()
		default:
			<-done
			return ctx.Err()
		}
	}
}

// process handles one job and reports whether the crawl should continue.
func (c *Crawler) process(ctx context.Context, j job, queue chan<- job, wg *sync.WaitGroup) bool {
	if c.auditor != nil {
		allowed, err := c.auditor.IsAllowed(ctx, j.URL)
		if err != nil {
			c.logger.Warn("error checking robots.txt", "url", j.URL, "err", err)
			return true
		}
		if !allowed {
			c.logger.Debug("url blocked by robots.txt", "url", j.URL)
			return true
		}
	}

	if c.cfg.MaxPages > 0 && c.fetched.Add(1) > int64(c.cfg.MaxPages) {
		return false
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return true
	}

	c.logger.Debug("fetching", "url", j.URL, "depth", j.Depth)
	page, err := c.fetcher.Get(ctx, j.URL)
	if err != nil {
		c.logger.Warn("fetch error", "url", j.URL, "err", err)
		return true
	}
	if !page.OK() {
		c.logger.Debug("skipping page", "url", j.URL, "status", page.StatusCode, "challenge", page.ChallengeSource)
		return true
	}

	var ext *Extracted
	if strings.Contains(page.ContentType(), "html") {
		if ext, err = Extract(page.FinalURL, page.Body); err != nil {
			c.logger.Debug("extract failed", "url", j.URL, "err", err)
		}
	}

	if c.cfg.OnPage != nil && !c.cfg.OnPage(ctx, page, ext, j.Depth) {
		return false
	}

	if j.Depth >= c.cfg.MaxDepth || ext == nil {
		return true
	}
	for _, link := range ext.Links {
		if !c.visit(link) {
			continue
		}
		wg.Add(1)
		select {
		case queue <- job{URL: link, Depth: j.Depth + 1}:
		case <-ctx.Done():
			wg.Done()
			return true
		}
	}
	return true
}

// visit marks rawURL visited and reports whether it is new and in scope.
func (c *Crawler) visit(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	if !c.inScope(u.Hostname()) {
		return false
	}
	u.Fragment = ""
	normalized := u.String()

	c.visitedMu.Lock()
	defer c.visitedMu.Unlock()
	if _, seen := c.visited[normalized]; seen {
		return false
	}
	c.visited[normalized] = struct{}{}
	return true
}

func (c *Crawler) inScope(host string) bool {
	if len(c.cfg.Domains) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, domain := range c.cfg.Domains {
		d := strings.ToLower(domain)
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
