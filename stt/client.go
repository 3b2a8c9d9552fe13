package stt

import (
	"bytes"
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/mrsingh-rishi/voice-query/endpoint"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/pkg/errors"
)

const (
	formField          = "audio"
	defaultContentType = "audio/webm"
)

// Client uploads captured audio to the backend transcription endpoint.
type Client struct {
	HTTPClient *http.Client
	URL        string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		URL:        endpoint.Join(baseURL, endpoint.PathTranscribe),
	}
}

// Transcribe posts payload as a multipart form and returns the transcript text.
func (c *Client) Transcribe(ctx context.Context, payload model.AudioPayload) (string, error) {
	body, contentType, err := buildForm(payload)
	if err != nil {
		return "", errors.Wrap(err, "stt: build form")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, body)
	if err != nil {
		return "", errors.Wrap(err, "stt: build request")
	}
	req.Header.Set("Content-Type", contentType)

	logging.NewLogger(ctx).Debugf("stt: uploading %d bytes (%s)", len(payload.Data), payload.ContentType)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", endpoint.Transport(endpoint.PathTranscribe, err)
	}
	defer resp.Body.Close()
	if err := endpoint.Check(resp, endpoint.PathTranscribe); err != nil {
		return "", err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", endpoint.Transport(endpoint.PathTranscribe, err)
	}
	if !endpoint.IsJSON(resp) {
		return string(raw), nil
	}
	text, err := endpoint.ExtractText(raw, endpoint.TranscriptFields)
	if err != nil {
		return "", errors.Wrap(err, "stt: decode response")
	}
	return text, nil
}

func buildForm(payload model.AudioPayload) (io.Reader, string, error) {
	contentType := payload.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+formField+`"; filename="`+fileName(contentType)+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// fileName picks the upload file name from the audio's content type, e.g. audio.webm.
func fileName(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = contentType
	}
	ext := "webm"
	if i := strings.IndexByte(mediaType, '/'); i >= 0 && i < len(mediaType)-1 {
		ext = mediaType[i+1:]
	}
	switch ext {
	case "mpeg":
		ext = "mp3"
	case "x-wav", "wave":
		ext = "wav"
	}
	return "audio." + ext
}
