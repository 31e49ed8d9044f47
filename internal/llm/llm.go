// Package llm runs optional model analysis over deep-collected pages.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/aktagon/llmkit/anthropic"
	"github.com/aktagon/llmkit/anthropic/types"
)

// DefaultSystemPrompt is used by models configured without one.
const DefaultSystemPrompt = "你是一个专业的数据分析助手，请对提供的文本进行情感分析，并给出情感倾向（positive/negative/neutral）和置信度。"

// MaxInputRunes bounds the page text sent to a model.
const MaxInputRunes = 12000

var (
	ErrUnknownModel = errors.New("llm: unknown model")
	ErrEmptyReply   = errors.New("llm: empty reply")
)

// Model is one configured analysis model.
type Model struct {
	ID           string  `mapstructure:"id" json:"id"`
	Name         string  `mapstructure:"name" json:"name"`
	ModelName    string  `mapstructure:"model_name" json:"model_name"`
	SystemPrompt string  `mapstructure:"system_prompt" json:"system_prompt,omitempty"`
	MaxTokens    int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature  float64 `mapstructure:"temperature" json:"temperature"`
}

// Completer sends one system+user prompt to a model and returns its text.
type Completer interface {
	Complete(ctx context.Context, m Model, system, prompt string) (string, error)
}

// AnthropicCompleter talks to the Anthropic messages API.
type AnthropicCompleter struct {
	APIKey string
}

// Complete implements Completer. The underlying client takes no context, so
// cancellation abandons the call rather than aborting it.
func (a *AnthropicCompleter) Complete(ctx context.Context, m Model, system, prompt string) (string, error) {
	settings := types.RequestSettings{
		Model:       m.ModelName,
		MaxTokens:   m.MaxTokens,
		Temperature: m.Temperature,
	}

	type reply struct {
		text string
		err  error
	}
	ch := make(chan reply, 1)
	go func() {
		resp, err := anthropic.PromptWithSettings(system, prompt, "", a.APIKey, settings)
		if err != nil {
			ch <- reply{err: fmt.Errorf("llm: %s: %w", m.ModelName, err)}
			return
		}
		if len(resp.Content) == 0 {
			ch <- reply{err: ErrEmptyReply}
			return
		}
		ch <- reply{text: resp.Content[0].Text}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.text, r.err
	}
}

// Analyzer resolves model ids and runs analysis.
type Analyzer struct {
	completer Completer
	models    map[string]Model
	order     []string
}

// NewAnalyzer returns an Analyzer over models. Zero-valued settings get
// defaults.
func NewAnalyzer(c Completer, models []Model) *Analyzer {
	a := &Analyzer{completer: c, models: make(map[string]Model, len(models))}
	for _, m := range models {
		if m.ID == "" {
			continue
		}
		if m.Name == "" {
			m.Name = m.ModelName
		}
		if m.MaxTokens <= 0 {
			m.MaxTokens = 1024
		}
		if _, dup := a.models[m.ID]; !dup {
			a.order = append(a.order, m.ID)
		}
		a.models[m.ID] = m
	}
	return a
}

// Models returns the configured models in configuration order.
func (a *Analyzer) Models() []Model {
	out := make([]Model, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, a.models[id])
	}
	return out
}

// Lookup returns the model with id.
func (a *Analyzer) Lookup(id string) (Model, bool) {
	m, ok := a.models[id]
	return m, ok
}

// Analyze runs model id over content and returns the reply and the model's
// display name.
func (a *Analyzer) Analyze(ctx context.Context, id, content string) (string, string, error) {
	m, ok := a.models[id]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownModel, id)
	}
	if a.completer == nil {
		return "", "", fmt.Errorf("llm: no completer configured for %q", id)
	}
	system := m.SystemPrompt
	if system == "" {
		system = DefaultSystemPrompt
	}
	text, err := a.completer.Complete(ctx, m, system, clip(content, MaxInputRunes))
	if err != nil {
		return "", "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", "", ErrEmptyReply
	}
	return text, m.Name, nil
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
