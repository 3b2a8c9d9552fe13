package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mrsingh-rishi/voice-query/endpoint"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/pkg/errors"
)

// Client turns answer text into playable audio through the backend synthesis endpoint.
type Client struct {
	HTTPClient *http.Client
	URL        string
}

// DurationHeader optionally carries the audio length in seconds.
const DurationHeader = "X-Audio-Duration"

type synthesizeRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: timeout},
		URL:        endpoint.Join(baseURL, endpoint.PathSynthesize),
	}
}

// Synthesize returns a resource wrapping the synthesized audio. An empty body
// fails with model.ErrSynthesisEmpty rather than a network error.
func (c *Client) Synthesize(ctx context.Context, text, lang string) (*model.PlayableResource, error) {
	reqBody, err := json.Marshal(synthesizeRequest{Text: text, Lang: lang})
	if err != nil {
		return nil, errors.Wrap(err, "tts: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, errors.Wrap(err, "tts: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, endpoint.Transport(endpoint.PathSynthesize, err)
	}
	defer resp.Body.Close()
	if err := endpoint.Check(resp, endpoint.PathSynthesize); err != nil {
		return nil, err
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, endpoint.Transport(endpoint.PathSynthesize, err)
	}
	logging.NewLogger(ctx).Debugf("tts: received %d bytes lang=%s", len(audio), lang)
	res, err := model.NewPlayableResource(audio, audioContentType(resp.Header.Get("Content-Type")), text)
	if err != nil {
		return nil, err
	}
	if d, ok := audioDuration(resp.Header.Get(DurationHeader)); ok {
		res.SetDuration(d)
	}
	return res, nil
}

// audioDuration parses a positive number of seconds. Anything else leaves the
// estimate from the byte length in place.
func audioDuration(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

// audioContentType keeps audio/* response types and otherwise assumes MP3.
func audioContentType(ct string) string {
	if strings.HasPrefix(ct, "audio/") {
		return ct
	}
	return model.DefaultAudioContentType
}
