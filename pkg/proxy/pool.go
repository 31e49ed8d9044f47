package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// ErrUnknownProxy is returned when reporting on a proxy the pool does not hold.
var ErrUnknownProxy = errors.New("proxy: not in pool")

// Stats is a snapshot of one proxy's health.
type Stats struct {
	URL       string
	Successes int
	Failures  int
	Benched   bool
}

type entry struct {
	url          *url.URL
	key          string
	successes    int
	failures     int
	benchedUntil time.Time
}

func (e *entry) benched(now time.Time) bool {
	return now.Before(e.benchedUntil)
}

// Config tunes health tracking.
type Config struct {
	// MaxFailures consecutive failures bench a proxy. Default 3.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out. Default 5m.
	Cooldown time.Duration
}

// Pool rotates outbound proxies and benches the ones that keep failing.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	cursor      int
	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
}

// NewPool creates an empty pool.
func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
		now:         time.Now,
	}
}

// LoadFile adds one proxy per line from path, skipping blanks and # comments.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("proxy: open list: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("proxy: read list: %w", err)
	}
	return p.Add(lines...)
}

// Add parses and appends proxies. Bare host:port entries default to http.
// Nothing is added if any entry fails to parse.
func (p *Pool) Add(raw ...string) error {
	parsed := make([]*entry, 0, len(raw))
	for _, r := range raw {
		if !strings.Contains(r, "://") {
			r = "http://" + r
		}
		u, err := url.Parse(r)
		if err != nil {
			return fmt.Errorf("proxy: parse %q: %w", r, err)
		}
		parsed = append(parsed, &entry{url: u, key: u.String()})
	}

	p.mu.Lock()
	p.entries = append(p.entries, parsed...)
	p.mu.Unlock()
	return nil
}

// Len reports the number of proxies, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next proxy that is not benched, or nil when none is usable.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	for i := 0; i < len(p.entries); i++ {
		e := p.entries[p.cursor]
		p.cursor = (p.cursor + 1) % len(p.entries)
		if e.benched(now) {
			continue
		}
		if !e.benchedUntil.IsZero() {
			// back from the bench with a clean slate
			e.benchedUntil = time.Time{}
			e.failures = 0
		}
		return e.url
	}
	return nil
}

// MarkSuccess credits u and forgives one prior failure.
func (p *Pool) MarkSuccess(u *url.URL) error {
	return p.update(u, func(e *entry) {
		e.successes++
		if e.failures > 0 {
			e.failures--
		}
	})
}

// MarkFailure charges u and benches it after MaxFailures.
func (p *Pool) MarkFailure(u *url.URL) error {
	return p.update(u, func(e *entry) {
		e.failures++
		if e.failures >= p.maxFailures {
			e.benchedUntil = p.now().Add(p.cooldown)
		}
	})
}

// Stats returns a snapshot of every proxy in rotation order.
func (p *Pool) Stats() []Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Stats, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, Stats{URL: e.key, Successes: e.successes, Failures: e.failures, Benched: e.benched(now)})
	}
	return out
}

func (p *Pool) update(u *url.URL, fn func(*entry)) error {
	if u == nil {
		return errors.New("proxy: nil url")
	}
	key := u.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.key == key {
			fn(e)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownProxy, key)
}
