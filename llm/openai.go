package llm

import (
	"context"
	"strings"

	"github.com/mrsingh-rishi/voice-query/endpoint"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

const openAIEndpoint = "openai/chat/completions"

// OpenAIClient answers a single query with a chat completion. It keeps no
// conversation history: every Ask is a fresh system + user exchange.
type OpenAIClient struct {
	Client             *openai.Client
	SystemInstructions string
	Model              string
}

func NewOpenAIClient(apiKey, baseURL, systemInstructions, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		Client:             openai.NewClientWithConfig(cfg),
		SystemInstructions: systemInstructions,
		Model:              model,
	}
}

func (c *OpenAIClient) Ask(ctx context.Context, query string) (string, error) {
	logging.NewLogger(ctx).Debugf("llm: sending query to OpenAI model=%s", c.Model)
	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: c.SystemInstructions},
			{Role: openai.ChatMessageRoleUser, Content: query},
		},
	}
	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", endpoint.OpenAI(openAIEndpoint, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
