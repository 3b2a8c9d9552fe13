package tts

import (
	"context"
	"io"

	"github.com/mrsingh-rishi/voice-query/endpoint"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/sashabaranov/go-openai"
)

const openAIEndpoint = "openai/audio/speech"

// OpenAIClient synthesizes speech with the OpenAI speech API. The language is
// inferred by the model from the text, so lang is only logged.
type OpenAIClient struct {
	Client *openai.Client
	Model  openai.SpeechModel
	Voice  openai.SpeechVoice
}

func NewOpenAIClient(apiKey, baseURL, voice string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		Client: openai.NewClientWithConfig(cfg),
		Model:  openai.TTSModel1,
		Voice:  openai.SpeechVoice(voice),
	}
}

func (c *OpenAIClient) Synthesize(ctx context.Context, text, lang string) (*model.PlayableResource, error) {
	logging.NewLogger(ctx).Debugf("tts: openai speech voice=%s lang=%s", c.Voice, lang)
	resp, err := c.Client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          c.Model,
		Input:          text,
		Voice:          c.Voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, endpoint.OpenAI(openAIEndpoint, err)
	}
	defer resp.Close()

	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, endpoint.Transport(openAIEndpoint, err)
	}
	return model.NewPlayableResource(audio, "audio/mpeg", text)
}
