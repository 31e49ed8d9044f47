// Package scraper fetches pages over a fingerprinted transport and turns them
// into text: robots.txt auditing, sitemaps, same-site crawling and content
// extraction.
package scraper

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/FranksOps/gleaner/internal/bypass"
	"github.com/FranksOps/gleaner/internal/fingerprint"
	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/pkg/httpclient"
	"github.com/FranksOps/gleaner/pkg/proxy"
	"github.com/FranksOps/gleaner/pkg/ratelimit"
	"github.com/FranksOps/gleaner/pkg/useragent"
	"golang.org/x/net/html/charset"
)

type contextKey string

const proxyKey contextKey = "proxy_url"

// DefaultMaxBody caps how much of a response body is read.
const DefaultMaxBody = 8 << 20

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	Timeout      time.Duration
	MaxRedirects int
	// UseCookieJar keeps cookies across requests made by this Fetcher.
	UseCookieJar bool
	ProxyPool    *proxy.Pool
	Profiles     *useragent.Pool
	Fingerprint  fingerprint.Profile
	Limiter      *ratelimit.Limiter
	// Headers are sent on every request unless the request overrides them.
	Headers map[string]string
	// MaxBodyBytes defaults to DefaultMaxBody.
	MaxBodyBytes int64
	// InsecureSkipVerify disables TLS verification. Tests only.
	InsecureSkipVerify bool
}

// Request describes one fetch.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    []byte
	// Timeout overrides the Fetcher's client timeout when shorter.
	Timeout time.Duration
}

// Page is a fetched response with its body decoded to UTF-8 where the content
// is text.
type Page struct {
	URL             string
	FinalURL        string
	StatusCode      int
	Header          http.Header
	Body            []byte
	Duration        time.Duration
	Challenged      bool
	ChallengeSource string
}

// OK reports a 2xx response that is not a bot challenge.
func (p *Page) OK() bool {
	return p.StatusCode >= 200 && p.StatusCode < 300 && !p.Challenged
}

// ContentType returns the media type without parameters, lowercased.
func (p *Page) ContentType() string {
	ct := p.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// Fetcher performs HTTP requests with profile rotation, proxy rotation and
// challenge detection. One Fetcher holds one cookie session.
type Fetcher struct {
	config FetchConfig
	client *httpclient.Client
}

// NewFetcher builds a Fetcher. The transport is created once so connections
// and cookies are reused for the Fetcher's lifetime.
func NewFetcher(cfg FetchConfig) (*Fetcher, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Profiles == nil {
		cfg.Profiles = useragent.NewPool(nil)
	}
	if cfg.Fingerprint == "" {
		cfg.Fingerprint = fingerprint.ProfileChrome
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBody
	}

	// The proxy is chosen per request and carried in its context.
	proxyFunc := func(req *http.Request) (*url.URL, error) {
		if u, ok := req.Context().Value(proxyKey).(*url.URL); ok && u != nil {
			return u, nil
		}
		if ip := net.ParseIP(req.URL.Hostname()); ip != nil && ip.IsLoopback() {
			return nil, nil
		}
		return http.ProxyFromEnvironment(req)
	}

	transport, err := fingerprint.Transport(cfg.Fingerprint, fingerprint.Options{
		Proxy:              proxyFunc,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: transport: %w", err)
	}

	client, err := httpclient.New(httpclient.Config{
		Timeout:      cfg.Timeout,
		MaxRedirects: cfg.MaxRedirects,
		UseCookieJar: cfg.UseCookieJar,
		Headers:      cfg.Headers,
		Transport:    transport,
	})
	if err != nil {
		return nil, fmt.Errorf("scraper: client: %w", err)
	}

	return &Fetcher{config: cfg, client: client}, nil
}

// Get fetches rawURL with a GET.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Page, error) {
	return f.Do(ctx, Request{URL: rawURL})
}

// Cookies returns the session cookies held for rawURL.
func (f *Fetcher) Cookies(rawURL string) []*http.Cookie {
	return f.client.Cookies(rawURL)
}

// Do performs req. Transport failures, rate limiter cancellation and body
// read errors are returned as errors; any HTTP status is a Page.
func (f *Fetcher) Do(ctx context.Context, req Request) (*Page, error) {
	if err := f.config.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("scraper: rate limiter: %w", err)
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("scraper: parse %q: %w", req.URL, err)
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, vs := range req.Query {
			q[k] = vs
		}
		target.RawQuery = q.Encode()
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	var activeProxy *url.URL
	if f.config.ProxyPool != nil {
		activeProxy = f.config.ProxyPool.Next()
		if activeProxy != nil {
			ctx = context.WithValue(ctx, proxyKey, activeProxy)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("scraper: build request: %w", err)
	}
	profile := f.config.Profiles.Next()
	for k, v := range map[string]string{
		"User-Agent":      profile.UserAgent,
		"Accept":          profile.Accept,
		"Accept-Language": profile.AcceptLanguage,
	} {
		if v != "" {
			httpReq.Header.Set(k, v)
		}
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	host := target.Hostname()

	resp, err := f.client.Do(ctx, httpReq)
	if err != nil {
		if activeProxy != nil {
			_ = f.config.ProxyPool.MarkFailure(activeProxy)
			metrics.ProxyFailures.WithLabelValues(activeProxy.String()).Inc()
		}
		metrics.RecordFetch(host, 0, "", 0, time.Since(start))
		return nil, fmt.Errorf("scraper: %s %s: %w", method, target.Redacted(), err)
	}
	defer resp.Body.Close()

	if activeProxy != nil {
		_ = f.config.ProxyPool.MarkSuccess(activeProxy)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.config.MaxBodyBytes))
	if err != nil {
		metrics.RecordFetch(host, resp.StatusCode, "", len(raw), time.Since(start))
		return nil, fmt.Errorf("scraper: read body of %s: %w", target.Redacted(), err)
	}

	page := &Page{
		URL:        req.URL,
		FinalURL:   resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       decodeBody(raw, resp.Header.Get("Content-Type")),
		Duration:   time.Since(start),
	}
	page.Challenged, page.ChallengeSource = bypass.Analyze(&bypass.Response{
		StatusCode: page.StatusCode,
		Header:     page.Header,
		Body:       page.Body,
		FinalURL:   page.FinalURL,
	}, bypass.DefaultDetectors())

	metrics.RecordFetch(host, page.StatusCode, page.ChallengeSource, len(raw), page.Duration)
	return page, nil
}

// decodeBody converts text bodies to UTF-8 using the declared or sniffed
// charset. Non-text bodies and undecodable input are returned unchanged.
func decodeBody(raw []byte, contentType string) []byte {
	ct := strings.ToLower(contentType)
	if ct != "" && !strings.Contains(ct, "text/") && !strings.Contains(ct, "html") {
		return raw
	}
	r, err := charset.NewReader(bytes.NewReader(raw), contentType)
	if err != nil {
		return raw
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return raw
	}
	return decoded
}
