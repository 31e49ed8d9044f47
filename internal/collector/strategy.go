package collector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/FranksOps/gleaner/internal/params"
	"github.com/FranksOps/gleaner/internal/storage"
)

// Job is one strategy invocation.
type Job struct {
	Source *storage.Source
	// Params are the stored defaults overlaid with the caller's values,
	// already validated.
	Params  params.Params
	Headers map[string]string
}

// Keyword returns the job's search term, or "" if none was given.
func (j Job) Keyword() string {
	return strings.TrimSpace(j.Params.First("", termKeys...))
}

// Limit returns the job's result limit or def.
func (j Job) Limit(def int) int {
	if n := j.Params.Int("limit", def); n > 0 {
		return n
	}
	return def
}

// Raw is a strategy result before normalization.
type Raw struct {
	URL      string
	Title    string
	Content  string
	Abstract string
	// Timestamp defaults to the collection time.
	Timestamp time.Time
}

// Output is what a strategy produced.
type Output struct {
	Results            []Raw
	TransportExhausted bool
}

// Strategy collects results for one source type.
type Strategy interface {
	Collect(ctx context.Context, job Job) (Output, error)
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(ctx context.Context, job Job) (Output, error)

// Collect calls f.
func (f StrategyFunc) Collect(ctx context.Context, job Job) (Output, error) {
	return f(ctx, job)
}

// PlaceholderLimit is the default number of fabricated results.
const PlaceholderLimit = 5

// Placeholder fabricates numbered results under the source URL. It exists for
// exercising the pipeline against source types with no real strategy.
type Placeholder struct{}

// Collect returns Limit(5) fabricated results.
func (Placeholder) Collect(ctx context.Context, job Job) (Output, error) {
	n := job.Limit(PlaceholderLimit)
	base := strings.TrimRight(job.Source.URL, "/")
	out := Output{Results: make([]Raw, 0, n)}
	for i := 0; i < n; i++ {
		out.Results = append(out.Results, Raw{
			URL:     fmt.Sprintf("%s/item/%d", base, i+1),
			Title:   fmt.Sprintf("%s 结果 #%d", job.Source.Type, i+1),
			Content: fmt.Sprintf("这是 %s 数据源的模拟结果 #%d", job.Source.Type, i+1),
		})
	}
	return out, nil
}
