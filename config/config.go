package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/pkg/errors"
)

// Provider selects which services back transcription, answering and synthesis.
type Provider string

const (
	ProviderBackend Provider = "backend"
	ProviderOpenAI  Provider = "openai"
)

const (
	defaultHTTPAddress      = ":3000"
	defaultLang             = "en"
	defaultCaptureMax       = 12 * time.Second
	defaultCaptureType      = "audio/webm"
	defaultHTTPTimeout      = 30 * time.Second
	defaultProgressInterval = 120 * time.Millisecond
	defaultChatModel        = "gpt-4o-mini"
	defaultTTSVoice         = "alloy"
	defaultSystemPrompt     = "You are a helpful voice assistant. Answer clearly and briefly."
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	LogLevel    string
	Provider    Provider
	BackendURL  string
	Lang        string

	CaptureMaxDuration time.Duration
	CaptureContentType string
	HTTPTimeout        time.Duration
	ProgressInterval   time.Duration

	OpenAIKey          string
	OpenAIBaseURL      string
	OpenAIChatModel    string
	OpenAISystemPrompt string
	OpenAITTSVoice     string
}

// Load reads .env (if present) and the environment, applying defaults.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.NewLogger(context.Background()).Debugf("no .env file found, falling back to environment variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddress:        envOr("HTTP_ADDRESS", defaultHTTPAddress),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		Provider:           Provider(strings.ToLower(envOr("VOICE_PROVIDER", string(ProviderBackend)))),
		BackendURL:         strings.TrimSpace(os.Getenv("VOICE_BACKEND_URL")),
		Lang:               envOr("VOICE_LANG", defaultLang),
		CaptureContentType: envOr("CAPTURE_CONTENT_TYPE", defaultCaptureType),
		OpenAIKey:          strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIBaseURL:      strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		OpenAIChatModel:    envOr("OPENAI_CHAT_MODEL", defaultChatModel),
		OpenAISystemPrompt: envOr("OPENAI_SYSTEM_PROMPT", defaultSystemPrompt),
		OpenAITTSVoice:     envOr("OPENAI_TTS_VOICE", defaultTTSVoice),
	}

	var err error
	if cfg.CaptureMaxDuration, err = durationEnv("CAPTURE_MAX_DURATION", defaultCaptureMax); err != nil {
		return Config{}, err
	}
	if cfg.HTTPTimeout, err = durationEnv("HTTP_TIMEOUT", defaultHTTPTimeout); err != nil {
		return Config{}, err
	}
	if cfg.ProgressInterval, err = durationEnv("PROGRESS_INTERVAL", defaultProgressInterval); err != nil {
		return Config{}, err
	}

	switch cfg.Provider {
	case ProviderBackend:
		if cfg.BackendURL == "" {
			return Config{}, errors.New("VOICE_BACKEND_URL must be set")
		}
	case ProviderOpenAI:
		if cfg.OpenAIKey == "" {
			return Config{}, errors.New("OPENAI_API_KEY must be set when VOICE_PROVIDER=openai")
		}
	default:
		return Config{}, errors.Errorf("unknown VOICE_PROVIDER %q", cfg.Provider)
	}

	logging.NewLogger(context.Background()).Infof("config: HTTP_ADDRESS=%s VOICE_PROVIDER=%s", cfg.HTTPAddress, cfg.Provider)
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parse %s", key)
	}
	if d <= 0 {
		return 0, errors.Errorf("%s must be positive, got %s", key, raw)
	}
	return d, nil
}
