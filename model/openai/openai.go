// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API. It adapts the engine's normalized Request/Response
// structures into the SDK's message format and back, including token usage
// and prompt-cache accounting.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/boardroom/model"
	"github.com/openai/openai-go"
)

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	InputCostPerM       float64
	OutputCostPerM      float64
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	client := openai.NewClient()
	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		InputCostPerM:       0.15,
		OutputCostPerM:      0.6,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements single-shot generation via Chat Completions.
func (m *Model) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	params := openai.ChatCompletionNewParams{
		Messages:    m.buildMessages(req),
		Model:       m.opts.Model,
		Temperature: openai.Float(m.opts.Temperature),
	}
	maxTokens := m.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	params.MaxCompletionTokens = openai.Int(maxTokens)

	resp, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, m.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, model.NewPermanentError("openai", "no_choices", fmt.Errorf("no choices returned"))
	}
	ch0 := resp.Choices[0]

	usage := model.Usage{
		InputTokens:     int(resp.Usage.PromptTokens),
		OutputTokens:    int(resp.Usage.CompletionTokens),
		CacheReadTokens: int(resp.Usage.PromptTokensDetails.CachedTokens),
	}
	// PromptTokens includes cached tokens; keep the categories disjoint.
	usage.InputTokens -= usage.CacheReadTokens

	return &model.Response{
		Text:         ch0.Message.Content,
		Model:        resp.Model,
		FinishReason: ch0.FinishReason,
		Usage:        usage,
	}, nil
}

// buildMessages converts normalized messages into OpenAI chat messages.
func (m *Model) buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, msg := range req.Messages {
		switch msg.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Text))
		default:
			messages = append(messages, openai.UserMessage(msg.Text))
		}
	}
	return messages
}

// classify maps SDK errors onto the shared provider error taxonomy.
func (m *Model) classify(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return model.ClassifyHTTP("openai", apierr.StatusCode, err)
	}
	return model.NewTransientError("openai", "network", err)
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:           m.opts.Model,
		Provider:       "openai",
		InputCostPerM:  m.opts.InputCostPerM,
		OutputCostPerM: m.opts.OutputCostPerM,
	}
}
