package endpoint

import (
	"github.com/mrsingh-rishi/voice-query/model"
	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// OpenAI maps go-openai failures onto the network error taxonomy.
func OpenAI(name string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &model.NetworkError{Endpoint: name, Status: apiErr.HTTPStatusCode, Body: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &model.NetworkError{Endpoint: name, Status: reqErr.HTTPStatusCode, Err: err}
	}
	return &model.NetworkError{Endpoint: name, Err: err}
}
