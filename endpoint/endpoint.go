// Package endpoint holds the HTTP plumbing shared by the backend clients:
// URL construction, status checking and ordered response-field extraction.
package endpoint

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/mrsingh-rishi/voice-query/model"
)

// Backend paths, relative to the configured base URL.
const (
	PathTranscribe = "audio/stt"
	PathQuery      = "rag/query"
	PathSynthesize = "audio/tts"
)

// Field lists tried in order when extracting text from a JSON response.
var (
	TranscriptFields = []string{"translated_text", "text", "result"}
	AnswerFields     = []string{"text", "rag_answer"}
)

// maxErrorBody caps how much of a failed response is kept on the error.
const maxErrorBody = 4096

// Join appends path to base, inserting a slash if base lacks one.
func Join(base, path string) string {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return base + strings.TrimPrefix(path, "/")
}

// Check converts a non-2xx response into a *model.NetworkError carrying the body.
func Check(resp *http.Response, name string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &model.NetworkError{Endpoint: name, Status: resp.StatusCode, Body: string(body)}
}

// Transport wraps an error from http.Client.Do, which never carries a status.
func Transport(name string, err error) error {
	return &model.NetworkError{Endpoint: name, Err: err}
}

// IsJSON reports whether a response declared a JSON body.
func IsJSON(resp *http.Response) bool {
	return strings.Contains(resp.Header.Get("Content-Type"), "application/json")
}

// ExtractText pulls text out of a JSON body: the first of fields that is present
// and non-null wins (strings as is, anything else re-encoded); a top-level JSON
// string is returned unquoted; otherwise the compacted body is returned.
func ExtractText(body []byte, fields []string) (string, error) {
	var top any
	if err := json.Unmarshal(body, &top); err != nil {
		return "", err
	}
	switch v := top.(type) {
	case string:
		return v, nil
	case map[string]any:
		for _, f := range fields {
			val, ok := v[f]
			if !ok || val == nil {
				continue
			}
			if s, ok := val.(string); ok {
				return s, nil
			}
			b, err := json.Marshal(val)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err != nil {
		return "", err
	}
	return compact.String(), nil
}
