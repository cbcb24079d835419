package httpapi

import (
	"fmt"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/config"
)

// validateChatRequest runs the full §4.8 rule set against an inbound
// OpenAI-compatible request, resolving and allow-listing its model. It
// returns the resolved provider so the caller never has to call
// gateway.ResolveProvider a second time. Validation runs before Pool.Select
// is ever reached, so a rejected request never consumes a credential.
func validateChatRequest(req *gateway.ChatRequest, snap *config.Snapshot) (gateway.Provider, error) {
	if req.Model == "" {
		return "", fmt.Errorf("%w: model is required", gateway.ErrValidation)
	}
	provider, ok := gateway.ResolveProvider(req.Model)
	if !ok {
		return "", fmt.Errorf("%w: unknown model %q", gateway.ErrValidation, req.Model)
	}
	if !modelAllowed(provider, req.Model, snap) {
		return "", fmt.Errorf("%w: model %q is not allow-listed", gateway.ErrValidation, req.Model)
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: messages must be non-empty", gateway.ErrValidation)
	}
	for _, m := range req.Messages {
		if m.Role == "" {
			return "", fmt.Errorf("%w: message role is required", gateway.ErrValidation)
		}
		if !hasTextualContent(m.Content) {
			return "", fmt.Errorf("%w: message content is required", gateway.ErrValidation)
		}
	}
	if err := validateNumericBounds(req.Temperature, req.TopP, req.N, req.PresencePenalty, req.FrequencyPenalty, req.MaxTokens); err != nil {
		return "", err
	}
	return provider, nil
}

// validateAnthropicRequest mirrors validateChatRequest for the native
// Anthropic request shape. N, presence_penalty, and frequency_penalty have no
// Anthropic equivalent and are not validated.
func validateAnthropicRequest(req *gateway.AnthropicRequest, snap *config.Snapshot) (gateway.Provider, error) {
	if req.Model == "" {
		return "", fmt.Errorf("%w: model is required", gateway.ErrValidation)
	}
	provider, ok := gateway.ResolveProvider(req.Model)
	if !ok {
		return "", fmt.Errorf("%w: unknown model %q", gateway.ErrValidation, req.Model)
	}
	if !modelAllowed(provider, req.Model, snap) {
		return "", fmt.Errorf("%w: model %q is not allow-listed", gateway.ErrValidation, req.Model)
	}
	if len(req.Messages) == 0 {
		return "", fmt.Errorf("%w: messages must be non-empty", gateway.ErrValidation)
	}
	for _, m := range req.Messages {
		if m.Role == "" {
			return "", fmt.Errorf("%w: message role is required", gateway.ErrValidation)
		}
		if !hasTextualContent(m.Content) {
			return "", fmt.Errorf("%w: message content is required", gateway.ErrValidation)
		}
	}
	if req.MaxTokens < 1 {
		return "", fmt.Errorf("%w: max_tokens must be >= 1", gateway.ErrValidation)
	}
	if err := validateNumericBounds(req.Temperature, req.TopP, nil, nil, nil, nil); err != nil {
		return "", err
	}
	return provider, nil
}

func modelAllowed(provider gateway.Provider, model string, snap *config.Snapshot) bool {
	if snap == nil {
		return true
	}
	list := snap.OpenAIModels
	if provider == gateway.ProviderAnthropic {
		list = snap.AnthropicModels
	}
	if len(list) == 0 {
		return true
	}
	for _, m := range list {
		if m == model {
			return true
		}
	}
	return false
}

func hasTextualContent(content any) bool {
	switch v := content.(type) {
	case string:
		return v != ""
	case nil:
		return false
	default:
		return true // structured content blocks; shape is the upstream's concern
	}
}

func validateNumericBounds(temperature, topP *float64, n *int, presencePenalty, frequencyPenalty *float64, maxTokens *int) error {
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return fmt.Errorf("%w: temperature must be in [0,2]", gateway.ErrValidation)
	}
	if topP != nil && (*topP < 0 || *topP > 1) {
		return fmt.Errorf("%w: top_p must be in [0,1]", gateway.ErrValidation)
	}
	if n != nil && (*n < 1 || *n > 10) {
		return fmt.Errorf("%w: n must be in [1,10]", gateway.ErrValidation)
	}
	if presencePenalty != nil && (*presencePenalty < -2 || *presencePenalty > 2) {
		return fmt.Errorf("%w: presence_penalty must be in [-2,2]", gateway.ErrValidation)
	}
	if frequencyPenalty != nil && (*frequencyPenalty < -2 || *frequencyPenalty > 2) {
		return fmt.Errorf("%w: frequency_penalty must be in [-2,2]", gateway.ErrValidation)
	}
	if maxTokens != nil && *maxTokens < 1 {
		return fmt.Errorf("%w: max_tokens must be >= 1", gateway.ErrValidation)
	}
	return nil
}
