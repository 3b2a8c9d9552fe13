package stt

import (
	"bytes"
	"context"
	"strings"

	"github.com/mrsingh-rishi/voice-query/endpoint"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/sashabaranov/go-openai"
)

const openAIEndpoint = "openai/audio/transcriptions"

// OpenAIClient transcribes captured audio with OpenAI Whisper.
type OpenAIClient struct {
	Client   *openai.Client
	Model    string
	Language string
}

func NewOpenAIClient(apiKey, baseURL, language string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		Client:   openai.NewClientWithConfig(cfg),
		Model:    openai.Whisper1,
		Language: language,
	}
}

func (c *OpenAIClient) Transcribe(ctx context.Context, payload model.AudioPayload) (string, error) {
	logging.NewLogger(ctx).Debugf("stt: openai transcription of %d bytes", len(payload.Data))
	resp, err := c.Client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.Model,
		Reader:   bytes.NewReader(payload.Data),
		FilePath: fileName(payload.ContentType),
		Language: c.Language,
	})
	if err != nil {
		return "", endpoint.OpenAI(openAIEndpoint, err)
	}
	return strings.TrimSpace(resp.Text), nil
}
