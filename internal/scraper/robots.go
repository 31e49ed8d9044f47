package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// DefaultRobotsTTL is how long a host's robots.txt verdict is cached.
const DefaultRobotsTTL = time.Hour

type robotsEntry struct {
	data    *robotstxt.RobotsData // nil means allow everything
	fetched time.Time
}

// RobotsTxtAuditor fetches, caches and enforces robots.txt per host. Fetch or
// parse failures fail open.
type RobotsTxtAuditor struct {
	fetcher   *Fetcher
	logger    *slog.Logger
	userAgent string
	ttl       time.Duration

	mu    sync.Mutex
	cache map[string]robotsEntry
	// inflight dedups concurrent fetches for one host
	inflight map[string]chan struct{}
}

// NewRobotsTxtAuditor checks rules for userAgent ("*" when empty).
func NewRobotsTxtAuditor(fetcher *Fetcher, userAgent string, logger *slog.Logger) *RobotsTxtAuditor {
	if logger == nil {
		logger = slog.Default()
	}
	if userAgent == "" {
		userAgent = "*"
	}
	return &RobotsTxtAuditor{
		fetcher:   fetcher,
		logger:    logger,
		userAgent: userAgent,
		ttl:       DefaultRobotsTTL,
		cache:     make(map[string]robotsEntry),
		inflight:  make(map[string]chan struct{}),
	}
}

// IsAllowed reports whether targetURL may be fetched.
func (r *RobotsTxtAuditor) IsAllowed(ctx context.Context, targetURL string) (bool, error) {
	u, err := url.Parse(targetURL)
	if err != nil {
		return false, fmt.Errorf("scraper: robots: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false, fmt.Errorf("scraper: robots: unsupported scheme %q", u.Scheme)
	}

	data := r.rules(ctx, u.Scheme+"://"+u.Host)
	if data == nil {
		return true, nil
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return data.FindGroup(r.userAgent).Test(path), nil
}

// Sitemaps returns the Sitemap: lines of origin's robots.txt.
func (r *RobotsTxtAuditor) Sitemaps(ctx context.Context, origin string) []string {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		origin = "https://" + origin
	}
	data := r.rules(ctx, strings.TrimRight(origin, "/"))
	if data == nil {
		return nil
	}
	return data.Sitemaps
}

func (r *RobotsTxtAuditor) rules(ctx context.Context, origin string) *robotstxt.RobotsData {
	for {
		r.mu.Lock()
		if e, ok := r.cache[origin]; ok && time.Since(e.fetched) < r.ttl {
			r.mu.Unlock()
			return e.data
		}
		wait, busy := r.inflight[origin]
		if !busy {
			done := make(chan struct{})
			r.inflight[origin] = done
			r.mu.Unlock()

			data := r.fetch(ctx, origin)

			r.mu.Lock()
			r.cache[origin] = robotsEntry{data: data, fetched: time.Now()}
			delete(r.inflight, origin)
			close(done)
			r.mu.Unlock()
			return data
		}
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil
		}
	}
}

func (r *RobotsTxtAuditor) fetch(ctx context.Context, origin string) *robotstxt.RobotsData {
	page, err := r.fetcher.Get(ctx, origin+"/robots.txt")
	if err != nil {
		r.logger.Debug("robots.txt fetch failed, allowing", "origin", origin, "err", err)
		return nil
	}
	if page.StatusCode >= 400 {
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(page.StatusCode, page.Body)
	if err != nil {
		r.logger.Debug("robots.txt parse failed, allowing", "origin", origin, "err", err)
		return nil
	}
	return data
}
