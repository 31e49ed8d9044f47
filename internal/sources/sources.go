// Package sources manages source configurations: validation, defaults,
// CRUD and YAML seed import. Every change invalidates the registry cache.
package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/FranksOps/gleaner/internal/storage"
)

// Defaults for new sources.
const (
	DefaultType          = "website"
	DefaultMethod        = "GET"
	DefaultCrawlInterval = time.Hour
	DefaultTimeout       = 10 * time.Second
	DefaultRetryCount    = 3
	MaxNameLength        = 50
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("sources: invalid source")

var urlPattern = regexp.MustCompile(`^https?://[\w\-]+(\.[\w\-]+)+([\w\-\.,@?^=%&:/~\+#]*[\w\-\@?^=%&/~\+#])?$`)

// Invalidator is told when stored sources change.
type Invalidator interface {
	Invalidate()
}

// Patch is a partial update; nil fields are left alone.
type Patch struct {
	Name          *string
	URL           *string
	Type          *string
	Params        *string
	Headers       *string
	Method        *string
	Enabled       *bool
	CrawlInterval *time.Duration
	Timeout       *time.Duration
	RetryCount    *int
	Description   *string
}

// Service is the source management service.
type Service struct {
	store  storage.SourceStore
	cache  Invalidator
	logger *slog.Logger
}

// NewService returns a Service. cache may be nil.
func NewService(store storage.SourceStore, cache Invalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, cache: cache, logger: logger}
}

// ApplyDefaults fills unset fields of s.
func ApplyDefaults(s *storage.Source) {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	if s.Type == "" {
		s.Type = DefaultType
	}
	if s.Method == "" {
		s.Method = DefaultMethod
	}
	s.Method = strings.ToUpper(s.Method)
	if strings.TrimSpace(s.Params) == "" {
		s.Params = "{}"
	}
	if strings.TrimSpace(s.Headers) == "" {
		s.Headers = "{}"
	}
	if s.CrawlInterval <= 0 {
		s.CrawlInterval = DefaultCrawlInterval
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultTimeout
	}
	if s.RetryCount <= 0 {
		s.RetryCount = DefaultRetryCount
	}
}

// Validate checks a source with defaults applied.
func Validate(s *storage.Source) error {
	if n := utf8.RuneCountInString(s.Name); n < 1 || n > MaxNameLength {
		return fmt.Errorf("%w: name must be 1 to %d characters", ErrInvalid, MaxNameLength)
	}
	if !urlPattern.MatchString(s.URL) {
		return fmt.Errorf("%w: url %q is not an absolute http(s) URL", ErrInvalid, s.URL)
	}
	if s.Method != "GET" && s.Method != "POST" {
		return fmt.Errorf("%w: method must be GET or POST", ErrInvalid)
	}
	if strings.TrimSpace(s.Type) == "" {
		return fmt.Errorf("%w: source type is required", ErrInvalid)
	}
	if err := jsonObject("params", s.Params); err != nil {
		return err
	}
	return jsonObject("headers", s.Headers)
}

func jsonObject(field, raw string) error {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return fmt.Errorf("%w: %s must be a JSON object: %v", ErrInvalid, field, err)
	}
	if m == nil {
		return fmt.Errorf("%w: %s must be a JSON object, got null", ErrInvalid, field)
	}
	return nil
}

// Create validates and stores a new source.
func (s *Service) Create(ctx context.Context, src *storage.Source) error {
	ApplyDefaults(src)
	if err := Validate(src); err != nil {
		return err
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		return fmt.Errorf("sources: create %q: %w", src.Name, err)
	}
	s.invalidate()
	s.logger.Info("source created", "id", src.ID, "name", src.Name, "type", src.Type)
	return nil
}

// Update applies p to the source with id.
func (s *Service) Update(ctx context.Context, id string, p Patch) (*storage.Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sources: update %s: %w", id, err)
	}
	p.Apply(src)
	ApplyDefaults(src)
	if err := Validate(src); err != nil {
		return nil, err
	}
	if err := s.store.UpdateSource(ctx, src); err != nil {
		return nil, fmt.Errorf("sources: update %s: %w", id, err)
	}
	s.invalidate()
	s.logger.Info("source updated", "id", id, "name", src.Name)
	return src, nil
}

// Apply copies the set fields of p onto src.
func (p Patch) Apply(src *storage.Source) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&src.Name, p.Name)
	set(&src.URL, p.URL)
	set(&src.Type, p.Type)
	set(&src.Params, p.Params)
	set(&src.Headers, p.Headers)
	set(&src.Method, p.Method)
	set(&src.Description, p.Description)
	if p.Enabled != nil {
		src.Enabled = *p.Enabled
	}
	if p.CrawlInterval != nil {
		src.CrawlInterval = *p.CrawlInterval
	}
	if p.Timeout != nil {
		src.Timeout = *p.Timeout
	}
	if p.RetryCount != nil {
		src.RetryCount = *p.RetryCount
	}
}

// Delete removes the source with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteSource(ctx, id); err != nil {
		return fmt.Errorf("sources: delete %s: %w", id, err)
	}
	s.invalidate()
	s.logger.Info("source deleted", "id", id)
	return nil
}

// Get returns the source with id.
func (s *Service) Get(ctx context.Context, id string) (*storage.Source, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sources: get %s: %w", id, err)
	}
	return src, nil
}

// List returns every source, or only the enabled ones.
func (s *Service) List(ctx context.Context, enabledOnly bool) ([]*storage.Source, error) {
	list, err := s.store.ListSources(ctx, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("sources: list: %w", err)
	}
	return list, nil
}

func (s *Service) invalidate() {
	if s.cache != nil {
		s.cache.Invalidate()
	}
}
