package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/gleaner/internal/params"
	"github.com/FranksOps/gleaner/internal/storage"
)

type fakeSources struct {
	sources []*storage.Source
	err     error
}

func (f *fakeSources) ByID(ctx context.Context, id string) (*storage.Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, s := range f.sources {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("fake: %w", storage.ErrNotFound)
}

func (f *fakeSources) ByType(ctx context.Context, typ string) ([]*storage.Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*storage.Source
	for _, s := range f.sources {
		if s.Type == typ && s.Enabled {
			out = append(out, s)
		}
	}
	return out, nil
}

type recorder struct {
	calls atomic.Int32
	last  Job
	out   Output
	err   error
}

func (r *recorder) Collect(ctx context.Context, job Job) (Output, error) {
	r.calls.Add(1)
	r.last = job
	return r.out, r.err
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestOrchestrator(sources []*storage.Source, opts ...Option) *Orchestrator {
	opts = append(opts, WithClock(func() time.Time { return fixedNow }))
	return New(&fakeSources{sources: sources}, slog.Default(), opts...)
}

func searchSource() *storage.Source {
	return &storage.Source{
		ID: "s1", Name: "百度搜索", URL: "https://www.baidu.com/s", Type: "baidu_search",
		Params: `{"ie": "utf-8", "limit": 5}`, Headers: `{"Referer": "https://www.baidu.com/"}`, Enabled: true,
	}
}

func okOutput() Output {
	return Output{Results: []Raw{
		{URL: " https://a.example/1 ", Title: "A", Abstract: "abstract a"},
		{URL: "https://a.example/2", Title: "B", Content: "content b", Abstract: "ignored"},
	}}
}

func TestRunBySource_Success(t *testing.T) {
	rec := &recorder{out: okOutput()}
	o := newTestOrchestrator([]*storage.Source{searchSource()})
	o.Register("baidu_search", rec)

	env := o.RunBySource(context.Background(), "baidu_search", params.Params{"keyword": "golang", "limit": 20.0})

	if !env.Success || env.Code != "" {
		t.Fatalf("expected success, got %+v", env)
	}
	if env.Total != 2 || len(env.Results) != 2 {
		t.Errorf("expected 2 results, got %d", env.Total)
	}
	if env.Message != "使用 baidu_search 数据源运行爬虫成功" {
		t.Errorf("unexpected message %q", env.Message)
	}
	if env.Config == nil || env.Config.ID != "s1" {
		t.Errorf("expected config s1, got %+v", env.Config)
	}

	first := env.Results[0]
	if first.URL != "https://a.example/1" || first.Content != "abstract a" || !first.Timestamp.Equal(fixedNow) {
		t.Errorf("unexpected normalized item %+v", first)
	}
	if env.Results[1].Content != "content b" {
		t.Errorf("content must win over abstract, got %q", env.Results[1].Content)
	}

	// Caller params win; stored defaults fill the rest.
	if rec.last.Params["limit"] != 20.0 || rec.last.Params["ie"] != "utf-8" || rec.last.Params["keyword"] != "golang" {
		t.Errorf("unexpected merged params %v", rec.last.Params)
	}
	if rec.last.Headers["Referer"] != "https://www.baidu.com/" {
		t.Errorf("expected decoded headers, got %v", rec.last.Headers)
	}
}

func TestRunBySource_UsesFirstEnabled(t *testing.T) {
	disabled := searchSource()
	disabled.ID, disabled.Enabled = "s0", false
	second := searchSource()
	second.ID = "s2"

	rec := &recorder{out: okOutput()}
	o := newTestOrchestrator([]*storage.Source{disabled, searchSource(), second})
	o.Register("baidu_search", rec)

	o.RunBySource(context.Background(), "baidu_search", nil)
	if rec.last.Source.ID != "s1" {
		t.Errorf("expected first enabled source s1, got %s", rec.last.Source.ID)
	}
}

func TestRunBySource_SourceNotFound(t *testing.T) {
	o := newTestOrchestrator(nil)
	env := o.RunBySource(context.Background(), "nope", nil)
	if env.Success || env.Code != CodeSourceNotFound {
		t.Errorf("expected SOURCE_NOT_FOUND, got %+v", env)
	}
}

func TestRunByConfig(t *testing.T) {
	disabled := searchSource()
	disabled.Enabled = false
	rec := &recorder{out: okOutput()}
	o := newTestOrchestrator([]*storage.Source{disabled})
	o.Register("baidu_search", rec)

	env := o.RunByConfig(context.Background(), "s1", nil)
	if !env.Success {
		t.Fatalf("disabled source must be runnable by id, got %+v", env)
	}
	if env.Message != "使用配置 百度搜索 运行爬虫成功" {
		t.Errorf("unexpected message %q", env.Message)
	}

	env = o.RunByConfig(context.Background(), "missing", nil)
	if env.Code != CodeConfigNotFound {
		t.Errorf("expected CONFIG_NOT_FOUND, got %+v", env)
	}
}

func TestRun_JSONParseError(t *testing.T) {
	for _, mutate := range []func(*storage.Source){
		func(s *storage.Source) { s.Params = `{"wd": ` },
		func(s *storage.Source) { s.Headers = `not json` },
	} {
		src := searchSource()
		mutate(src)
		rec := &recorder{out: okOutput()}
		o := newTestOrchestrator([]*storage.Source{src})
		o.Register("baidu_search", rec)

		env := o.RunBySource(context.Background(), "baidu_search", nil)
		if env.Code != CodeJSONParse {
			t.Errorf("expected JSON_PARSE_ERROR, got %+v", env)
		}
		if rec.calls.Load() != 0 {
			t.Errorf("strategy must not run on a corrupt config")
		}
	}
}

func TestRun_ParamValidationBoundary(t *testing.T) {
	cases := []struct {
		p  params.Params
		ok bool
	}{
		{params.Params{"limit": 0.0}, false},
		{params.Params{"limit": 101.0}, false},
		{params.Params{"page": 0.0}, false},
		{params.Params{"limit": "10"}, false},
		{params.Params{"keyword": "   "}, false},
		{params.Params{"keyword": 42.0}, false},
		{params.Params{"limit": 1.0}, true},
		{params.Params{"limit": 100.0}, true},
		{params.Params{"page": 1.0, "keyword": "go"}, true},
	}
	for _, c := range cases {
		rec := &recorder{out: okOutput()}
		src := searchSource()
		src.Params = "{}"
		o := newTestOrchestrator([]*storage.Source{src})
		o.Register("baidu_search", rec)

		env := o.RunBySource(context.Background(), "baidu_search", c.p)
		if c.ok && !env.Success {
			t.Errorf("%v: expected success, got %+v", c.p, env)
		}
		if !c.ok {
			if env.Code != CodeParam {
				t.Errorf("%v: expected PARAM_ERROR, got %+v", c.p, env)
			}
			if rec.calls.Load() != 0 {
				t.Errorf("%v: strategy must not run on invalid params", c.p)
			}
		}
	}
}

func TestRun_StoredDefaultsAreValidated(t *testing.T) {
	src := searchSource()
	src.Params = `{"limit": 500}`
	rec := &recorder{out: okOutput()}
	o := newTestOrchestrator([]*storage.Source{src})
	o.Register("baidu_search", rec)

	if env := o.RunBySource(context.Background(), "baidu_search", nil); env.Code != CodeParam || env.Error != "限制数量必须在1-100之间" {
		t.Errorf("expected PARAM_ERROR from stored default, got %+v", env)
	}
	if env := o.RunBySource(context.Background(), "baidu_search", params.Params{"limit": 50.0}); !env.Success {
		t.Errorf("caller override must fix the stored default, got %+v", env)
	}
}

func TestRun_NoResults(t *testing.T) {
	rec := &recorder{out: Output{TransportExhausted: true}}
	o := newTestOrchestrator([]*storage.Source{searchSource()})
	o.Register("baidu_search", rec)

	env := o.RunBySource(context.Background(), "baidu_search", nil)
	if env.Code != CodeNoResults || !env.TransportExhausted {
		t.Errorf("expected transport-exhausted NO_RESULTS, got %+v", env)
	}

	rec.out = Output{}
	env = o.RunBySource(context.Background(), "baidu_search", nil)
	if env.Code != CodeNoResults || env.TransportExhausted {
		t.Errorf("expected plain NO_RESULTS, got %+v", env)
	}
}

func TestRun_StrategyErrorAndPanic(t *testing.T) {
	o := newTestOrchestrator([]*storage.Source{searchSource()})

	o.Register("baidu_search", &recorder{err: errors.New("boom")})
	env := o.RunBySource(context.Background(), "baidu_search", nil)
	if env.Code != CodeCrawler || !strings.Contains(env.Error, "boom") {
		t.Errorf("expected CRAWLER_ERROR, got %+v", env)
	}

	o.Register("baidu_search", StrategyFunc(func(ctx context.Context, job Job) (Output, error) {
		panic("selector exploded")
	}))
	env = o.RunBySource(context.Background(), "baidu_search", nil)
	if env.Code != CodeCrawler || !strings.Contains(env.Error, "selector exploded") {
		t.Errorf("expected CRAWLER_ERROR from panic, got %+v", env)
	}
}

func TestRun_LookupFailureIsInternal(t *testing.T) {
	o := New(&fakeSources{err: errors.New("db down")}, slog.Default())
	if env := o.RunBySource(context.Background(), "baidu_search", nil); env.Code != CodeInternal {
		t.Errorf("expected INTERNAL_ERROR, got %+v", env)
	}
	if env := o.RunByConfig(context.Background(), "x", nil); env.Code != CodeInternal {
		t.Errorf("expected INTERNAL_ERROR, got %+v", env)
	}
}

func TestRun_UnregisteredStrategy(t *testing.T) {
	src := &storage.Source{ID: "n1", Name: "news", URL: "https://news.example/", Type: "news", Enabled: true}

	o := newTestOrchestrator([]*storage.Source{src})
	env := o.RunBySource(context.Background(), "news", nil)
	if env.Code != CodeStrategyNotRegistered || env.Error != "数据源类型 news 没有注册的采集策略" {
		t.Errorf("expected STRATEGY_NOT_REGISTERED, got %+v", env)
	}

	o = newTestOrchestrator([]*storage.Source{src}, WithPlaceholder(true))
	env = o.RunBySource(context.Background(), "news", nil)
	if !env.Success || env.Total != PlaceholderLimit {
		t.Fatalf("expected %d placeholder results, got %+v", PlaceholderLimit, env)
	}
	if env.Results[0].URL != "https://news.example/item/1" || env.Results[0].Title != "news 结果 #1" {
		t.Errorf("unexpected placeholder item %+v", env.Results[0])
	}

	env = o.RunBySource(context.Background(), "news", params.Params{"limit": 2.0})
	if env.Total != 2 {
		t.Errorf("expected limit to bound placeholder results, got %d", env.Total)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(params.Params{"wd": "ok", "page": 3.0, "limit": 10.0}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := Validate(params.Params{}); err != nil {
		t.Errorf("empty params must validate, got %v", err)
	}
	if err := Validate(params.Params{"page": true}); err == nil {
		t.Errorf("expected error for boolean page")
	}
}
