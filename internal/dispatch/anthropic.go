package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	gateway "github.com/amppool/gateway/internal"
)

const DefaultAnthropicBaseURL = "https://ampcode.com/api/provider/anthropic"

const anthropicVersion = "2023-06-01"
const defaultMaxTokens = 4096

// anthropicBody is the wire shape actually sent upstream. Messages are
// reduced to {role, content} only; stop (if the client sent one) is wrapped
// into a singleton stop_sequences list; n has no Anthropic equivalent and is
// dropped.
type anthropicBody struct {
	Model         string                    `json:"model"`
	Messages      []gateway.AnthropicMessage `json:"messages"`
	MaxTokens     int                       `json:"max_tokens"`
	System        any                       `json:"system,omitempty"`
	Temperature   *float64                  `json:"temperature,omitempty"`
	TopP          *float64                  `json:"top_p,omitempty"`
	StopSequences []string                  `json:"stop_sequences,omitempty"`
	Stream        bool                      `json:"stream,omitempty"`
}

// BuildAnthropicRequest constructs the upstream *http.Request for a message
// call against baseURL + "/v1/messages".
func BuildAnthropicRequest(ctx context.Context, baseURL, secret string, req *gateway.AnthropicRequest) (*http.Request, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	body := anthropicBody{
		Model:         req.Model,
		Messages:      req.Messages,
		MaxTokens:     maxTokens,
		System:        req.System,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: req.StopSequences,
		Stream:        req.Stream,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build anthropic request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", secret)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	ApplyFixedHeaders(httpReq)
	return httpReq, nil
}

// StopToStopSequences wraps a client "stop" value (string or []string) into
// Anthropic's stop_sequences shape. Used by the httpapi layer when building
// an AnthropicRequest out of an inbound OpenAI-shaped ChatRequest.
func StopToStopSequences(stop any) []string {
	switch v := stop.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
