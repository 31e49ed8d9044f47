package collector

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/FranksOps/gleaner/internal/scraper"
	"github.com/FranksOps/gleaner/internal/search"
	"github.com/FranksOps/gleaner/internal/storage"
	"github.com/FranksOps/gleaner/pkg/ratelimit"
)

// DefaultSearchTag is the source type served by SearchStrategy.
const DefaultSearchTag = "baidu_search"

// FetcherFactory builds a Fetcher for a source. Search clients need one with
// a cookie jar of their own.
type FetcherFactory func(src *storage.Source) (*scraper.Fetcher, error)

type searchClient struct {
	client    *search.Client
	updatedAt time.Time
}

// SearchStrategy runs keyword searches against a source's result page URL.
// One search.Client, and so one warmed-up session, is kept per source until
// the source changes.
type SearchStrategy struct {
	newFetcher FetcherFactory
	pause      ratelimit.PauseFunc
	logger     *slog.Logger

	mu      sync.Mutex
	clients map[string]searchClient
}

// NewSearchStrategy returns a SearchStrategy. pause may be nil.
func NewSearchStrategy(newFetcher FetcherFactory, pause ratelimit.PauseFunc, logger *slog.Logger) *SearchStrategy {
	if logger == nil {
		logger = slog.Default()
	}
	return &SearchStrategy{
		newFetcher: newFetcher,
		pause:      pause,
		logger:     logger,
		clients:    make(map[string]searchClient),
	}
}

// Collect runs the search and maps results to Raw.
func (s *SearchStrategy) Collect(ctx context.Context, job Job) (Output, error) {
	client, err := s.client(job.Source, job.Headers)
	if err != nil {
		return Output{}, err
	}
	res := client.Run(ctx, job.Params)

	out := Output{TransportExhausted: res.TransportExhausted}
	for _, r := range res.Results {
		out.Results = append(out.Results, Raw{
			URL:      r.URL,
			Title:    r.Title,
			Abstract: r.Abstract,
		})
	}
	return out, nil
}

func (s *SearchStrategy) client(src *storage.Source, headers map[string]string) (*search.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.clients[src.ID]; ok && c.updatedAt.Equal(src.UpdatedAt) {
		return c.client, nil
	}

	u, err := url.Parse(src.URL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("search source %q: invalid url %q", src.Name, src.URL)
	}
	fetcher, err := s.newFetcher(src)
	if err != nil {
		return nil, fmt.Errorf("search source %q: %w", src.Name, err)
	}

	client := search.NewClient(search.Config{
		SearchURL:  src.URL,
		HomeURL:    u.Scheme + "://" + u.Host + "/",
		Timeout:    requestTimeout(src),
		RetryCount: src.RetryCount,
		Headers:    headers,
		Pause:      s.pause,
	}, fetcher, s.logger)
	s.clients[src.ID] = searchClient{client: client, updatedAt: src.UpdatedAt}
	return client, nil
}

// requestTimeout is the budget of one search request. The source timeout
// bounds the fetcher as a whole and only shortens it.
func requestTimeout(src *storage.Source) time.Duration {
	if src.Timeout > 0 && src.Timeout < search.DefaultTimeout {
		return src.Timeout
	}
	return search.DefaultTimeout
}
