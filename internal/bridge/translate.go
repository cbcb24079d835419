package bridge

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	gateway "github.com/amppool/gateway/internal"
)

// BuildOpenAIChatResponse assembles a non-stream OpenAI chat.completion from a
// raw OpenAI-format upstream body. Missing usage fields are emitted as zero,
// never omitted, per the buffered-response contract.
func BuildOpenAIChatResponse(data []byte, now int64) (*gateway.ChatResponse, error) {
	r := gjson.ParseBytes(data)
	if !r.Exists() {
		return nil, fmt.Errorf("bridge: empty openai response body")
	}

	var resp gateway.ChatResponse
	resp.ID = r.Get("id").String()
	resp.Object = "chat.completion"
	resp.Created = now
	resp.Model = r.Get("model").String()

	r.Get("choices").ForEach(func(_, c gjson.Result) bool {
		resp.Choices = append(resp.Choices, gateway.Choice{
			Index:        int(c.Get("index").Int()),
			Message:      gateway.ChatMessage{Role: c.Get("message.role").String(), Content: c.Get("message.content").Value()},
			FinishReason: c.Get("finish_reason").String(),
		})
		return true
	})

	resp.Usage = gateway.Usage{
		PromptTokens:     int(r.Get("usage.prompt_tokens").Int()),
		CompletionTokens: int(r.Get("usage.completion_tokens").Int()),
		TotalTokens:      int(r.Get("usage.prompt_tokens").Int()) + int(r.Get("usage.completion_tokens").Int()),
	}
	return &resp, nil
}

// BuildAnthropicMessageResponse parses a raw Anthropic-format upstream body
// (same-protocol non-stream case) into an AnthropicResponse carrying id,
// type, role, model, stop_reason, the token usage counts, and each content
// block's type and text. Other fields of the upstream body are not carried
// over into the returned value.
func BuildAnthropicMessageResponse(data []byte) (*gateway.AnthropicResponse, error) {
	r := gjson.ParseBytes(data)
	if !r.Exists() {
		return nil, fmt.Errorf("bridge: empty anthropic response body")
	}

	resp := &gateway.AnthropicResponse{
		ID:         r.Get("id").String(),
		Type:       r.Get("type").String(),
		Role:       r.Get("role").String(),
		Model:      r.Get("model").String(),
		StopReason: r.Get("stop_reason").String(),
		Usage: gateway.AnthropicUsage{
			InputTokens:              int(r.Get("usage.input_tokens").Int()),
			OutputTokens:             int(r.Get("usage.output_tokens").Int()),
			CacheCreationInputTokens: int(r.Get("usage.cache_creation_input_tokens").Int()),
			CacheReadInputTokens:     int(r.Get("usage.cache_read_input_tokens").Int()),
		},
	}
	r.Get("content").ForEach(func(_, block gjson.Result) bool {
		resp.Content = append(resp.Content, gateway.AnthropicContentBlock{
			Type: block.Get("type").String(),
			Text: block.Get("text").String(),
		})
		return true
	})
	return resp, nil
}

// ConvertAnthropicToOpenAIResponse re-shapes an already-parsed Anthropic
// message into an OpenAI chat.completion -- the cross-protocol buffered case
// (client called the OpenAI-compatible endpoint for a model that resolved to
// the Anthropic provider). Content blocks are joined in order; only text
// blocks contribute, mirroring the streaming translation's text-only path.
func ConvertAnthropicToOpenAIResponse(resp *gateway.AnthropicResponse, now int64) *gateway.ChatResponse {
	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &gateway.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: now,
		Model:   resp.Model,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.ChatMessage{Role: "assistant", Content: text.String()},
			FinishReason: MapStopReason(resp.StopReason),
		}},
		Usage: gateway.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

// AccumulateOpenAIBuffered populates acc from a raw OpenAI non-stream
// response body, so the log writer has the same accumulator shape to read
// from regardless of whether the request streamed.
func AccumulateOpenAIBuffered(acc *gateway.Accumulator, data []byte) {
	r := gjson.ParseBytes(data)
	acc.MessageID = r.Get("id").String()
	acc.Model = r.Get("model").String()
	acc.InputTokens = int(r.Get("usage.prompt_tokens").Int())
	acc.OutputTokens = int(r.Get("usage.completion_tokens").Int())
	if v := r.Get("usage.credits"); v.Exists() {
		if d, err := decimal.NewFromString(v.String()); err == nil {
			acc.Credits = d
		}
	}
	if choice := r.Get("choices.0"); choice.Exists() {
		acc.Content.WriteString(choice.Get("message.content").String())
		acc.StopReason = choice.Get("finish_reason").String()
	}
}

// AccumulateAnthropicBuffered populates acc from a raw Anthropic non-stream
// response body, mirroring the streaming accumulator's field set.
func AccumulateAnthropicBuffered(acc *gateway.Accumulator, data []byte) {
	r := gjson.ParseBytes(data)
	acc.MessageID = r.Get("id").String()
	acc.Model = r.Get("model").String()
	acc.InputTokens = int(r.Get("usage.input_tokens").Int())
	acc.OutputTokens = int(r.Get("usage.output_tokens").Int())
	acc.CacheCreationInputTokens = int(r.Get("usage.cache_creation_input_tokens").Int())
	acc.CacheReadInputTokens = int(r.Get("usage.cache_read_input_tokens").Int())
	if v := r.Get("usage.credits"); v.Exists() {
		if d, err := decimal.NewFromString(v.String()); err == nil {
			acc.Credits = d
		}
	}
	acc.StopReason = r.Get("stop_reason").String()
	r.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			acc.Content.WriteString(block.Get("text").String())
		}
		return true
	})
}
