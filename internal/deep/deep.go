// Package deep re-fetches a collected record's page, converts it to
// markdown and optionally runs model analysis over it.
package deep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"golang.org/x/sync/errgroup"

	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/internal/scraper"
	"github.com/FranksOps/gleaner/internal/storage"
)

// StatusCompleted marks a deep record whose page was fetched and converted.
const StatusCompleted = "completed"

// BatchConcurrency bounds parallel fetches in Batch.
const BatchConcurrency = 3

var (
	ErrDisallowed = errors.New("deep: disallowed by robots.txt")
	ErrBadURL     = errors.New("deep: url must be absolute http(s)")
)

// Store is the persistence Service needs.
type Store interface {
	storage.RecordStore
	storage.DeepStore
}

// Analyzer runs model analysis. A nil Analyzer disables analysis.
type Analyzer interface {
	Analyze(ctx context.Context, modelID, content string) (analysis, modelName string, err error)
}

// Config configures a Service.
type Config struct {
	RespectRobots bool
	UserAgent     string
	Analyzer      Analyzer
	Now           func() time.Time
}

// Result is the outcome of one deep collection.
type Result struct {
	// Action is "created" or "updated".
	Action string
	Deep   *storage.DeepRecord
}

// Outcome is one record's result in a batch.
type Outcome struct {
	RecordID string `json:"data_id"`
	Success  bool   `json:"success"`
	Action   string `json:"action,omitempty"`
	DeepID   string `json:"deep_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Service performs deep collection and manages deep records.
type Service struct {
	store    Store
	fetcher  *scraper.Fetcher
	auditor  *scraper.RobotsTxtAuditor
	analyzer Analyzer
	md       *converter.Converter
	now      func() time.Time
	logger   *slog.Logger
}

// NewService returns a Service fetching through fetcher.
func NewService(store Store, fetcher *scraper.Fetcher, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Service{
		store:    store,
		fetcher:  fetcher,
		analyzer: cfg.Analyzer,
		now:      cfg.Now,
		logger:   logger,
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
	if cfg.RespectRobots {
		s.auditor = scraper.NewRobotsTxtAuditor(fetcher, cfg.UserAgent, logger)
	}
	return s
}

// Collect deep-collects the page of record recordID. An empty rawURL means
// the record's own URL. A blank modelID skips analysis; a failed analysis is
// logged and the page is still stored.
func (s *Service) Collect(ctx context.Context, recordID, rawURL, modelID string) (res *Result, err error) {
	defer func() {
		if err != nil {
			metrics.DeepCollectionsTotal.WithLabelValues("failed").Inc()
		}
	}()

	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, fmt.Errorf("deep: record %s: %w", recordID, err)
	}
	if rawURL == "" {
		rawURL = rec.URL
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		return nil, fmt.Errorf("%w: %q", ErrBadURL, rawURL)
	}

	if s.auditor != nil {
		allowed, err := s.auditor.IsAllowed(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("deep: robots check: %w", err)
		}
		if !allowed {
			return nil, fmt.Errorf("%w: %s", ErrDisallowed, rawURL)
		}
	}

	page, err := s.fetcher.Get(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("deep: fetch: %w", err)
	}
	if !page.OK() {
		if page.Challenged {
			return nil, fmt.Errorf("deep: fetch %s: challenged by %s", rawURL, page.ChallengeSource)
		}
		return nil, fmt.Errorf("deep: fetch %s: status %d", rawURL, page.StatusCode)
	}

	title, content := s.render(page)
	d := &storage.DeepRecord{
		RecordID: recordID,
		URL:      rawURL,
		Title:    title,
		Content:  content,
		Status:   StatusCompleted,
	}

	if modelID != "" && s.analyzer != nil {
		analysis, model, aerr := s.analyzer.Analyze(ctx, modelID, content)
		if aerr != nil {
			s.logger.Warn("model analysis failed", "record_id", recordID, "model", modelID, "err", aerr)
		} else {
			d.AIAnalysis, d.ModelUsed = analysis, model
		}
	}

	created, err := s.store.UpsertDeepRecord(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("deep: save: %w", err)
	}
	if err := s.store.MarkDeepCollected(ctx, recordID, s.now().UTC()); err != nil {
		return nil, fmt.Errorf("deep: mark record: %w", err)
	}

	action := "updated"
	if created {
		action = "created"
	}
	metrics.DeepCollectionsTotal.WithLabelValues(action).Inc()
	s.logger.Info("deep collection done", "record_id", recordID, "url", rawURL, "action", action, "chars", len(content))
	return &Result{Action: action, Deep: d}, nil
}

// render returns the page title and its markdown body. Non-HTML bodies are
// kept as text.
func (s *Service) render(page *scraper.Page) (string, string) {
	body := string(page.Body)
	if !strings.Contains(page.ContentType(), "html") && page.ContentType() != "" {
		return "", strings.TrimSpace(body)
	}

	var title, fallback string
	if ext, err := scraper.Extract(page.FinalURL, page.Body); err == nil {
		title, fallback = ext.Title, ext.Text()
	}
	md, err := s.md.ConvertString(body, converter.WithDomain(page.FinalURL))
	if err != nil || strings.TrimSpace(md) == "" {
		return title, fallback
	}
	return title, strings.TrimSpace(md)
}

// Batch deep-collects each record and reports per-record outcomes in input
// order. One failure does not stop the others.
func (s *Service) Batch(ctx context.Context, recordIDs []string, modelID string) []Outcome {
	out := make([]Outcome, len(recordIDs))
	var g errgroup.Group
	g.SetLimit(BatchConcurrency)
	for i, id := range recordIDs {
		g.Go(func() error {
			out[i].RecordID = id
			res, err := s.Collect(ctx, id, "", modelID)
			if err != nil {
				out[i].Error = err.Error()
				return nil
			}
			out[i].Success, out[i].Action, out[i].DeepID = true, res.Action, res.Deep.ID
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// List returns one page of deep records and the total matching f.
func (s *Service) List(ctx context.Context, f storage.DeepFilter) ([]*storage.DeepRecord, int, error) {
	total, err := s.store.CountDeepRecords(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("deep: count: %w", err)
	}
	list, err := s.store.QueryDeepRecords(ctx, f)
	if err != nil {
		return nil, 0, fmt.Errorf("deep: list: %w", err)
	}
	return list, total, nil
}

// Get returns the deep record with id.
func (s *Service) Get(ctx context.Context, id string) (*storage.DeepRecord, error) {
	d, err := s.store.GetDeepRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("deep: get %s: %w", id, err)
	}
	return d, nil
}

// Edit holds the editable fields of a deep record.
type Edit struct {
	Title      *string
	AIAnalysis *string
}

// Update applies e to the deep record with id.
func (s *Service) Update(ctx context.Context, id string, e Edit) (*storage.DeepRecord, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e.Title != nil {
		d.Title = *e.Title
	}
	if e.AIAnalysis != nil {
		d.AIAnalysis = *e.AIAnalysis
	}
	if err := s.store.UpdateDeepRecord(ctx, d); err != nil {
		return nil, fmt.Errorf("deep: update %s: %w", id, err)
	}
	return d, nil
}

// Delete removes the deep record with id.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDeepRecord(ctx, id); err != nil {
		return fmt.Errorf("deep: delete %s: %w", id, err)
	}
	return nil
}
