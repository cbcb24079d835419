package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	gateway "github.com/amppool/gateway/internal"
)

const DefaultOpenAIBaseURL = "https://ampcode.com/api/provider/openai"

// openAIBody is the wire shape actually sent upstream: only non-null fields
// forwarded from the client's ChatRequest, per spec.
type openAIBody struct {
	Model            string         `json:"model"`
	Messages         []gateway.ChatMessage `json:"messages"`
	Stream           bool           `json:"stream,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	N                *int           `json:"n,omitempty"`
	Stop             any            `json:"stop,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]int `json:"logit_bias,omitempty"`
	User             string         `json:"user,omitempty"`
}

// BuildOpenAIRequest constructs the upstream *http.Request for a chat
// completion call against baseURL + "/v1/chat/completions".
func BuildOpenAIRequest(ctx context.Context, baseURL, secret string, req *gateway.ChatRequest) (*http.Request, error) {
	body := openAIBody{
		Model:            req.Model,
		Messages:         req.Messages,
		Stream:           req.Stream,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
		TopP:             req.TopP,
		N:                req.N,
		Stop:             req.Stop,
		PresencePenalty:  req.PresencePenalty,
		FrequencyPenalty: req.FrequencyPenalty,
		LogitBias:        req.LogitBias,
		User:             req.User,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal openai request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build openai request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+secret)
	ApplyFixedHeaders(httpReq)
	return httpReq, nil
}
