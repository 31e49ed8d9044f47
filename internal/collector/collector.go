// Package collector resolves a source configuration, merges and validates
// request parameters, dispatches to the strategy registered for the source
// type and wraps the outcome in a uniform envelope. It never returns an error
// or panics to its caller; failures are envelope codes.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/FranksOps/gleaner/internal/metrics"
	"github.com/FranksOps/gleaner/internal/params"
	"github.com/FranksOps/gleaner/internal/storage"
)

// Envelope codes.
const (
	CodeSourceNotFound        = "SOURCE_NOT_FOUND"
	CodeConfigNotFound        = "CONFIG_NOT_FOUND"
	CodeJSONParse             = "JSON_PARSE_ERROR"
	CodeParam                 = "PARAM_ERROR"
	CodeNoResults             = "NO_RESULTS"
	CodeCrawler               = "CRAWLER_ERROR"
	CodeInternal              = "INTERNAL_ERROR"
	CodeStrategyNotRegistered = "STRATEGY_NOT_REGISTERED"
)

// Item is one normalized result.
type Item struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ConfigInfo identifies the source configuration an envelope ran against.
type ConfigInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"source_type"`
}

// Envelope is the uniform result of a collection run.
type Envelope struct {
	Success bool        `json:"success"`
	Results []Item      `json:"results,omitempty"`
	Total   int         `json:"total_results"`
	Message string      `json:"message,omitempty"`
	Config  *ConfigInfo `json:"config,omitempty"`
	Code    string      `json:"error_code,omitempty"`
	Error   string      `json:"error_message,omitempty"`
	// TransportExhausted marks a NO_RESULTS envelope produced because every
	// request failed, as opposed to the engine finding nothing.
	TransportExhausted bool `json:"transport_exhausted,omitempty"`
}

// Sources looks up source configurations.
type Sources interface {
	ByID(ctx context.Context, id string) (*storage.Source, error)
	ByType(ctx context.Context, typ string) ([]*storage.Source, error)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPlaceholder enables fabricated results for unregistered source types.
func WithPlaceholder(enabled bool) Option {
	return func(o *Orchestrator) { o.placeholder = enabled }
}

// WithClock overrides the timestamp source for normalized items.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs collections against configured sources.
type Orchestrator struct {
	sources     Sources
	logger      *slog.Logger
	placeholder bool
	now         func() time.Time

	mu         sync.RWMutex
	strategies map[string]Strategy
}

// New returns an Orchestrator with no strategies registered.
func New(sources Sources, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		sources:    sources,
		logger:     logger,
		now:        time.Now,
		strategies: make(map[string]Strategy),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register binds a source-type tag to a strategy, replacing any previous one.
func (o *Orchestrator) Register(tag string, s Strategy) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.strategies[tag] = s
}

// Registered returns the tags with a strategy.
func (o *Orchestrator) Registered() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	tags := make([]string, 0, len(o.strategies))
	for t := range o.strategies {
		tags = append(tags, t)
	}
	return tags
}

func (o *Orchestrator) strategy(tag string) (Strategy, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.strategies[tag]
	return s, ok
}

// RunBySource runs the first enabled source tagged tag.
func (o *Orchestrator) RunBySource(ctx context.Context, tag string, p params.Params) (env Envelope) {
	defer o.recoverInternal(&env, "source", tag)

	matched, err := o.sources.ByType(ctx, tag)
	if err != nil {
		return o.finish(tag, fail(CodeInternal, fmt.Sprintf("内部错误: %v", err)))
	}
	if len(matched) == 0 {
		return o.finish(tag, fail(CodeSourceNotFound, fmt.Sprintf("未找到数据源类型为 %s 的爬虫配置", tag)))
	}
	src := matched[0]
	env = o.run(ctx, src, p)
	if env.Success {
		env.Message = fmt.Sprintf("使用 %s 数据源运行爬虫成功", tag)
	}
	return o.finish(tag, env)
}

// RunByConfig runs the source with id, enabled or not.
func (o *Orchestrator) RunByConfig(ctx context.Context, id string, p params.Params) (env Envelope) {
	defer o.recoverInternal(&env, "config", id)

	src, err := o.sources.ByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return o.finish("", fail(CodeConfigNotFound, fmt.Sprintf("配置ID %s 不存在", id)))
	}
	if err != nil {
		return o.finish("", fail(CodeInternal, fmt.Sprintf("内部错误: %v", err)))
	}
	env = o.run(ctx, src, p)
	if env.Success {
		env.Message = fmt.Sprintf("使用配置 %s 运行爬虫成功", src.Name)
	}
	return o.finish(src.Type, env)
}

func (o *Orchestrator) run(ctx context.Context, src *storage.Source, caller params.Params) Envelope {
	info := &ConfigInfo{ID: src.ID, Name: src.Name, URL: src.URL, Type: src.Type}

	defaults, err := params.Decode(src.Params)
	if err != nil {
		return withConfig(fail(CodeJSONParse, fmt.Sprintf("配置解析失败: %v", err)), info)
	}
	headers, err := decodeHeaders(src.Headers)
	if err != nil {
		return withConfig(fail(CodeJSONParse, fmt.Sprintf("配置解析失败: %v", err)), info)
	}

	merged := params.Merge(defaults, caller)
	if err := Validate(merged); err != nil {
		return withConfig(fail(CodeParam, err.Error()), info)
	}

	strat, ok := o.strategy(src.Type)
	if !ok {
		if !o.placeholder {
			return withConfig(fail(CodeStrategyNotRegistered, fmt.Sprintf("数据源类型 %s 没有注册的采集策略", src.Type)), info)
		}
		o.logger.Warn("no strategy for source type, fabricating placeholder results", "source", src.Type, "config", src.Name)
		strat = Placeholder{}
	}

	out, err := o.dispatch(ctx, strat, Job{Source: src, Params: merged, Headers: headers})
	if err != nil {
		o.logger.Error("strategy failed", "source", src.Type, "config", src.Name, "err", err)
		return withConfig(fail(CodeCrawler, fmt.Sprintf("爬虫运行失败: %v", err)), info)
	}

	items := o.normalize(out.Results)
	if len(items) == 0 {
		env := withConfig(fail(CodeNoResults, "未找到匹配的数据"), info)
		env.TransportExhausted = out.TransportExhausted
		return env
	}
	return Envelope{
		Success: true,
		Results: items,
		Total:   len(items),
		Config:  info,
	}
}

// dispatch converts a strategy panic into an error.
func (o *Orchestrator) dispatch(ctx context.Context, s Strategy, job Job) (out Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("strategy panicked", "source", job.Source.Type, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Collect(ctx, job)
}

func (o *Orchestrator) normalize(raw []Raw) []Item {
	now := o.now()
	items := make([]Item, 0, len(raw))
	for _, r := range raw {
		it := Item{
			URL:       strings.TrimSpace(r.URL),
			Title:     strings.TrimSpace(r.Title),
			Content:   strings.TrimSpace(r.Content),
			Timestamp: r.Timestamp,
		}
		if it.Content == "" {
			it.Content = strings.TrimSpace(r.Abstract)
		}
		if it.Timestamp.IsZero() {
			it.Timestamp = now
		}
		items = append(items, it)
	}
	return items
}

func (o *Orchestrator) recoverInternal(env *Envelope, kind, key string) {
	if r := recover(); r != nil {
		o.logger.Error("collection panicked", kind, key, "panic", r, "stack", string(debug.Stack()))
		*env = o.finish("", fail(CodeInternal, fmt.Sprintf("内部错误: %v", r)))
	}
}

func (o *Orchestrator) finish(tag string, env Envelope) Envelope {
	code := env.Code
	if env.Success {
		code = "ok"
	}
	if tag == "" && env.Config != nil {
		tag = env.Config.Type
	}
	metrics.CollectionsTotal.WithLabelValues(tag, code).Inc()
	return env
}

func fail(code, msg string) Envelope {
	return Envelope{Code: code, Error: msg}
}

func withConfig(env Envelope, info *ConfigInfo) Envelope {
	env.Config = info
	return env
}

// decodeHeaders reads a stored JSON object of header values. Non-string
// values are formatted.
func decodeHeaders(raw string) (map[string]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("headers: %w", err)
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch v := v.(type) {
		case nil:
		case string:
			out[k] = v
		default:
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}
