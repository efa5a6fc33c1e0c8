package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/samber/oops"
	"github.com/sashabaranov/go-openai"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig configures the OpenAI backend. BaseURL may point at any
// OpenAI-compatible server.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// OpenAI is a Completer backed by the chat completions API.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI backend.
func NewOpenAI(cfg OpenAIConfig, timeout time.Duration) *OpenAI {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: openai.NewClientWithConfig(oc), model: model}
}

// Complete sends prompt as a single user message and returns the first choice.
func (o *OpenAI) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
	})
	if err != nil {
		return "", oops.In("provider").With("backend", BackendOpenAI, "model", o.model).Wrapf(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", oops.In("provider").With("backend", BackendOpenAI).Errorf("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}
