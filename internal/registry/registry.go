// Package registry caches source configurations for the collection path.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FranksOps/gleaner/internal/storage"
)

// DefaultTTL is how long a snapshot is served before it is reloaded.
const DefaultTTL = 5 * time.Second

// snapshot is an immutable view of every stored source.
type snapshot struct {
	version  uint64
	loadedAt time.Time
	// stale forces the next read to reload.
	stale   bool
	ordered []*storage.Source
	byID    map[string]*storage.Source
}

// Registry is a process-wide, wholesale-replaced cache of source
// configurations. Disabled sources are reachable by id only.
type Registry struct {
	store  storage.SourceStore
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	snap atomic.Pointer[snapshot]
	// reloadMu serializes reloads so a burst of expired readers hits the
	// store once.
	reloadMu sync.Mutex
}

// New returns an empty Registry; the first read loads it.
func New(store storage.SourceStore, ttl time.Duration, logger *slog.Logger) *Registry {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: store, ttl: ttl, logger: logger, now: time.Now}
}

// All returns the enabled sources, reloading first when force is set or the
// snapshot is older than the TTL. A failed reload keeps serving the previous
// snapshot; the error is returned only when there is nothing to serve.
func (r *Registry) All(ctx context.Context, force bool) ([]*storage.Source, error) {
	s, err := r.current(ctx, force)
	if err != nil {
		return nil, err
	}
	out := make([]*storage.Source, 0, len(s.ordered))
	for _, src := range s.ordered {
		if src.Enabled {
			out = append(out, clone(src))
		}
	}
	return out, nil
}

// ByID returns the source with id, enabled or not.
func (r *Registry) ByID(ctx context.Context, id string) (*storage.Source, error) {
	s, err := r.current(ctx, false)
	if err != nil {
		return nil, err
	}
	src, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("registry: source %s: %w", id, storage.ErrNotFound)
	}
	return clone(src), nil
}

// ByType returns the enabled sources tagged typ in store order.
func (r *Registry) ByType(ctx context.Context, typ string) ([]*storage.Source, error) {
	s, err := r.current(ctx, false)
	if err != nil {
		return nil, err
	}
	var out []*storage.Source
	for _, src := range s.ordered {
		if src.Enabled && src.Type == typ {
			out = append(out, clone(src))
		}
	}
	return out, nil
}

// Invalidate makes the next read reload from the store.
func (r *Registry) Invalidate() {
	for {
		old := r.snap.Load()
		if old == nil {
			return
		}
		next := *old
		next.stale = true
		if r.snap.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Version increases every time a reload succeeds.
func (r *Registry) Version() uint64 {
	if s := r.snap.Load(); s != nil {
		return s.version
	}
	return 0
}

func (r *Registry) fresh(s *snapshot) bool {
	return s != nil && !s.stale && r.now().Sub(s.loadedAt) < r.ttl
}

func (r *Registry) current(ctx context.Context, force bool) (*snapshot, error) {
	if s := r.snap.Load(); !force && r.fresh(s) {
		return s, nil
	}

	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	old := r.snap.Load()
	if !force && r.fresh(old) {
		// Another reader reloaded while we waited.
		return old, nil
	}

	sources, err := r.store.ListSources(ctx, false)
	if err != nil {
		if old != nil {
			r.logger.Warn("source reload failed, serving stale snapshot", "version", old.version, "err", err)
			return old, nil
		}
		return nil, fmt.Errorf("registry: load sources: %w", err)
	}

	next := &snapshot{
		loadedAt: r.now(),
		ordered:  sources,
		byID:     make(map[string]*storage.Source, len(sources)),
	}
	if old != nil {
		next.version = old.version + 1
	} else {
		next.version = 1
	}
	for _, src := range sources {
		next.byID[src.ID] = src
	}
	r.snap.Store(next)
	r.logger.Debug("sources reloaded", "count", len(sources), "version", next.version)
	return next, nil
}

func clone(s *storage.Source) *storage.Source {
	c := *s
	return &c
}
