// Package httpclient is the session-aware HTTP client under every fetch: one
// Client carries one cookie jar, one redirect policy and a set of default
// headers.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRedirects = 10
)

// Config configures a Client.
type Config struct {
	Timeout time.Duration
	// MaxRedirects is followed at most; 0 means 10 and a negative value
	// returns the redirect response itself.
	MaxRedirects int
	// UseCookieJar lets cookies set by a warm-up request reach later ones.
	UseCookieJar bool
	// Headers are applied to every request that does not already set them.
	Headers map[string]string
	// Transport replaces the default, e.g. with a fingerprinted one.
	Transport http.RoundTripper
}

// Client is an http.Client with default headers.
type Client struct {
	*http.Client
	headers map[string]string
}

// New builds a Client from cfg.
func New(cfg Config) (*Client, error) {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	hc := &http.Client{
		Timeout:       timeout,
		Transport:     cfg.Transport,
		CheckRedirect: redirectPolicy(cfg.MaxRedirects),
	}
	if cfg.UseCookieJar {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("httpclient: cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	return &Client{Client: hc, headers: maps.Clone(cfg.Headers)}, nil
}

func redirectPolicy(limit int) func(*http.Request, []*http.Request) error {
	if limit < 0 {
		return func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	if limit == 0 {
		limit = defaultMaxRedirects
	}
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= limit {
			return fmt.Errorf("httpclient: stopped after %d redirects", limit)
		}
		return nil
	}
}

// Do sends req bound to ctx, which may end it before the client timeout.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx == nil {
		return nil, errors.New("httpclient: context cannot be nil")
	}
	out := req.Clone(ctx)
	for k, v := range c.headers {
		if out.Header.Get(k) == "" {
			out.Header.Set(k, v)
		}
	}
	resp, err := c.Client.Do(out)
	if err != nil {
		return nil, fmt.Errorf("httpclient: %w", err)
	}
	return resp, nil
}

// Cookies returns what the jar holds for rawURL, or nil without a jar.
func (c *Client) Cookies(rawURL string) []*http.Cookie {
	if c.Jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.Jar.Cookies(u)
}
