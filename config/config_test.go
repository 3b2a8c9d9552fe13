package config

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("VOICE_PROVIDER", "")
	t.Setenv("VOICE_BACKEND_URL", "http://127.0.0.1:5000/")
	t.Setenv("HTTP_ADDRESS", "")
	t.Setenv("CAPTURE_MAX_DURATION", "")
	t.Setenv("PROGRESS_INTERVAL", "")
	t.Setenv("HTTP_TIMEOUT", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderBackend, cfg.Provider)
	assert.Equal(t, ":3000", cfg.HTTPAddress)
	assert.Equal(t, "en", cfg.Lang)
	assert.Equal(t, 12*time.Second, cfg.CaptureMaxDuration)
	assert.Equal(t, 120*time.Millisecond, cfg.ProgressInterval)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, "audio/webm", cfg.CaptureContentType)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("VOICE_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CAPTURE_MAX_DURATION", "8s")
	t.Setenv("VOICE_LANG", "hi")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, ProviderOpenAI, cfg.Provider)
	assert.Equal(t, 8*time.Second, cfg.CaptureMaxDuration)
	assert.Equal(t, "hi", cfg.Lang)
	assert.Equal(t, "gpt-4o-mini", cfg.OpenAIChatModel)
}

func TestFromEnv_Errors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing_backend_url", map[string]string{"VOICE_PROVIDER": "backend", "VOICE_BACKEND_URL": ""}},
		{"missing_openai_key", map[string]string{"VOICE_PROVIDER": "openai", "OPENAI_API_KEY": ""}},
		{"unknown_provider", map[string]string{"VOICE_PROVIDER": "carrier-pigeon"}},
		{"bad_duration", map[string]string{"VOICE_BACKEND_URL": "http://x/", "CAPTURE_MAX_DURATION": "soon"}},
		{"negative_duration", map[string]string{"VOICE_BACKEND_URL": "http://x/", "HTTP_TIMEOUT": "-1s"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("VOICE_PROVIDER", "")
			t.Setenv("CAPTURE_MAX_DURATION", "")
			t.Setenv("HTTP_TIMEOUT", "")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}

type bufferFactory struct {
	buf *bytes.Buffer
}

func (f bufferFactory) CreateLogger(context.Context) logging.Logger {
	l := logrus.New()
	l.SetOutput(f.buf)
	l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	return logging.FromLogrus(l)
}

func TestFromEnv_LogsThroughLoggerFactory(t *testing.T) {
	var buf bytes.Buffer
	logging.SetLoggerFactory(bufferFactory{buf: &buf})
	t.Cleanup(func() { logging.SetLoggerFactory(nil) })
	t.Setenv("VOICE_PROVIDER", "")
	t.Setenv("VOICE_BACKEND_URL", "http://127.0.0.1:5000/")
	t.Setenv("HTTP_ADDRESS", ":4000")

	_, err := FromEnv()
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "HTTP_ADDRESS=:4000")
	assert.Contains(t, buf.String(), "VOICE_PROVIDER=backend")
}
