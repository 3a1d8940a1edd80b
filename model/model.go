package model

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Message is one conversational turn supplied to a model.
type Message struct {
	Role string `json:"role"` // user or assistant
	Text string `json:"text"`
}

// Request captures the normalized model input produced by the executor and
// the orchestrator. Deliberation turns are single-shot; streaming is not part
// of this contract.
type Request struct {
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int64     `json:"max_tokens,omitempty"` // 0 uses the adapter default
}

// Usage captures the token breakdown reported by a provider for one call.
type Usage struct {
	InputTokens         int `json:"input_tokens"`
	OutputTokens        int `json:"output_tokens"`
	CacheCreationTokens int `json:"cache_creation_tokens,omitempty"`
	CacheReadTokens     int `json:"cache_read_tokens,omitempty"`
}

// Total returns the sum across all token categories.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheCreationTokens + u.CacheReadTokens
}

// Response is the completed output of one model call.
type Response struct {
	Text         string `json:"text"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Info contains metadata about a model implementation including list pricing
// per million tokens, used for cost accounting and routing decisions.
type Info struct {
	Name            string  `json:"name"`
	Provider        string  `json:"provider"`
	InputCostPerM   float64 `json:"input_cost_per_mtok"`
	OutputCostPerM  float64 `json:"output_cost_per_mtok"`
}

// Cost estimates the dollar cost of a call from usage and list pricing.
// Cache-read tokens are billed at a tenth of the input rate.
func Cost(info Info, u Usage) float64 {
	in := float64(u.InputTokens+u.CacheCreationTokens) * info.InputCostPerM / 1e6
	cached := float64(u.CacheReadTokens) * info.InputCostPerM / 10 / 1e6
	out := float64(u.OutputTokens) * info.OutputCostPerM / 1e6
	return in + cached + out
}

// Model is the minimal interface required to drive deliberation generation.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses are matched by substring against the last user message; a script
// of errors can precede successful responses to exercise retry paths.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	errScript []error
	calls     int
}

// NewMockModel constructs a MockModel with zero-cost pricing.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: provider},
		responses: make(map[string]string),
	}
}

// AddResponse registers a canned completion returned when the last user
// message contains match.
func (m *MockModel) AddResponse(match, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[match] = response
}

// FailNext queues errors returned by subsequent Generate calls before any
// canned response is served.
func (m *MockModel) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errScript = append(m.errScript, errs...)
}

// Calls returns how many Generate invocations have been observed.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if len(m.errScript) > 0 {
		err := m.errScript[0]
		m.errScript = m.errScript[1:]
		return nil, err
	}

	var last string
	for _, msg := range req.Messages {
		if msg.Role == "user" {
			last = msg.Text
		}
	}
	full := ""
	for match, resp := range m.responses {
		if strings.Contains(last, match) {
			full = resp
			break
		}
	}
	if full == "" {
		full = fmt.Sprintf("Mock response to: %s", last)
	}
	return &Response{
		Text:         full,
		Model:        m.info.Name,
		FinishReason: "stop",
		Usage:        Usage{InputTokens: len(last) / 4, OutputTokens: len(full) / 4},
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
