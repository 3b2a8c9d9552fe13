package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/mrsingh-rishi/voice-query/endpoint"
	"github.com/mrsingh-rishi/voice-query/logging"
	"github.com/pkg/errors"
)

// RAGClient sends transcripts to the retrieval-augmented answering endpoint.
type RAGClient struct {
	HTTPClient *http.Client
	URL        string
}

type queryRequest struct {
	Query string `json:"query"`
}

func NewRAGClient(baseURL string, timeout time.Duration) *RAGClient {
	return &RAGClient{
		HTTPClient: &http.Client{Timeout: timeout},
		URL:        endpoint.Join(baseURL, endpoint.PathQuery),
	}
}

// Ask returns the service's answer to query.
func (c *RAGClient) Ask(ctx context.Context, query string) (string, error) {
	reqBody, err := json.Marshal(queryRequest{Query: query})
	if err != nil {
		return "", errors.Wrap(err, "rag: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(reqBody))
	if err != nil {
		return "", errors.Wrap(err, "rag: build request")
	}
	req.Header.Set("Content-Type", "application/json")

	logging.NewLogger(ctx).Debugf("rag: query %q", query)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", endpoint.Transport(endpoint.PathQuery, err)
	}
	defer resp.Body.Close()
	if err := endpoint.Check(resp, endpoint.PathQuery); err != nil {
		return "", err
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", endpoint.Transport(endpoint.PathQuery, err)
	}
	answer, err := endpoint.ExtractText(raw, endpoint.AnswerFields)
	if err != nil {
		// not JSON at all: the body is the answer
		return string(raw), nil
	}
	return answer, nil
}
