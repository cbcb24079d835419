package httpapi

import (
	"strings"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/bridge"
	"github.com/amppool/gateway/internal/dispatch"
)

// anthropicMaxTokens is the max_tokens fallback for an inbound OpenAI-shaped
// request with no max_tokens set -- Anthropic requires the field, OpenAI
// does not. Mirrors dispatch.BuildAnthropicRequest's own fallback.
const anthropicMaxTokens = 4096

// chatRequestToAnthropic builds an AnthropicRequest out of an inbound
// OpenAI-shaped ChatRequest, for the cross-protocol case: the client hit
// /v1/chat/completions for a model that resolves to the Anthropic provider.
func chatRequestToAnthropic(req *gateway.ChatRequest) *gateway.AnthropicRequest {
	messages := make([]gateway.AnthropicMessage, 0, len(req.Messages))
	var system []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			if s, ok := m.Content.(string); ok && s != "" {
				system = append(system, s)
			}
			continue
		}
		messages = append(messages, gateway.AnthropicMessage{Role: m.Role, Content: m.Content})
	}
	var systemField any
	switch len(system) {
	case 0:
	case 1:
		systemField = system[0]
	default:
		systemField = strings.Join(system, "\n\n")
	}

	maxTokens := anthropicMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	return &gateway.AnthropicRequest{
		Model:         req.Model,
		Messages:      messages,
		MaxTokens:     maxTokens,
		System:        systemField,
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		StopSequences: dispatch.StopToStopSequences(req.Stop),
		Stream:        req.Stream,
		APIKey:        req.APIKey,
		Proxy:         req.Proxy,
	}
}

// anthropicResponseToChat translates a buffered Anthropic response back into
// an OpenAI chat.completion for the cross-protocol case above.
func anthropicResponseToChat(resp *gateway.AnthropicResponse, now int64) *gateway.ChatResponse {
	return bridge.ConvertAnthropicToOpenAIResponse(resp, now)
}
