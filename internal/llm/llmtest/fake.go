// Package llmtest provides a scripted llm.Model for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/linkerlin/laterclaw/internal/llm"
)

// Step is one scripted answer. When Err is set it is returned instead of Resp.
type Step struct {
	Resp *llm.Response
	Err  error
}

// Model replays Steps in order and records every request it receives.
type Model struct {
	mu       sync.Mutex
	steps    []Step
	requests []llm.Request
}

func New(steps ...Step) *Model {
	return &Model{steps: steps}
}

// Text is a final answer step.
func Text(s string, usage llm.Usage) Step {
	return Step{Resp: &llm.Response{Content: s, Usage: usage}}
}

// Calls is a step requesting tool invocations.
func Calls(calls ...llm.ToolCall) Step {
	return Step{Resp: &llm.Response{ToolCalls: calls, Usage: llm.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12}}}
}

// Fail is a step returning err.
func Fail(err error) Step {
	return Step{Err: err}
}

func (m *Model) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(m.steps) == 0 {
		return nil, errors.New("llmtest: script exhausted")
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	return s.Resp, s.Err
}

// Requests returns a copy of the recorded requests.
func (m *Model) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.Request(nil), m.requests...)
}

// ToolNames returns the tool names offered in request i.
func (m *Model) ToolNames(i int) []string {
	reqs := m.Requests()
	if i >= len(reqs) {
		return nil
	}
	names := make([]string, 0, len(reqs[i].Tools))
	for _, t := range reqs[i].Tools {
		names = append(names, t.Name)
	}
	return names
}
