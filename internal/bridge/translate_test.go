package bridge

import (
	"testing"

	gateway "github.com/amppool/gateway/internal"
)

func TestBuildOpenAIChatResponse(t *testing.T) {
	t.Parallel()

	body := []byte(`{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`)

	resp, err := BuildOpenAIChatResponse(body, 1700000000)
	if err != nil {
		t.Fatalf("BuildOpenAIChatResponse: %v", err)
	}
	if resp.Object != "chat.completion" {
		t.Errorf("object = %q, want chat.completion", resp.Object)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("total_tokens = %d, want 5", resp.Usage.TotalTokens)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected choices: %+v", resp.Choices)
	}
}

func TestBuildOpenAIChatResponseMissingUsageIsZeroFilled(t *testing.T) {
	t.Parallel()

	body := []byte(`{"id":"chatcmpl-2","model":"gpt-4o","choices":[]}`)

	resp, err := BuildOpenAIChatResponse(body, 1700000000)
	if err != nil {
		t.Fatalf("BuildOpenAIChatResponse: %v", err)
	}
	if resp.Usage.PromptTokens != 0 || resp.Usage.CompletionTokens != 0 || resp.Usage.TotalTokens != 0 {
		t.Errorf("usage = %+v, want all zero", resp.Usage)
	}
}

func TestBuildAnthropicMessageResponse(t *testing.T) {
	t.Parallel()

	body := []byte(`{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-opus","content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":6,"cache_creation_input_tokens":1,"cache_read_input_tokens":2}}`)

	resp, err := BuildAnthropicMessageResponse(body)
	if err != nil {
		t.Fatalf("BuildAnthropicMessageResponse: %v", err)
	}
	if resp.Usage.InputTokens != 4 || resp.Usage.OutputTokens != 6 {
		t.Errorf("usage = %+v", resp.Usage)
	}
	if resp.Usage.CacheCreationInputTokens != 1 || resp.Usage.CacheReadInputTokens != 2 {
		t.Errorf("cache usage = %+v", resp.Usage)
	}
	if len(resp.Content) != 1 || resp.Content[0].Text != "hi" {
		t.Fatalf("unexpected content: %+v", resp.Content)
	}
}

func TestAccumulateOpenAIBuffered(t *testing.T) {
	t.Parallel()

	var acc gateway.Accumulator
	body := []byte(`{"id":"chatcmpl-3","model":"gpt-4o","choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2}}`)
	AccumulateOpenAIBuffered(&acc, body)

	if acc.Content.String() != "hello" {
		t.Errorf("content = %q, want hello", acc.Content.String())
	}
	if acc.InputTokens != 1 || acc.OutputTokens != 2 {
		t.Errorf("tokens = %d/%d, want 1/2", acc.InputTokens, acc.OutputTokens)
	}
	if acc.StopReason != "stop" {
		t.Errorf("stop reason = %q", acc.StopReason)
	}
}

func TestAccumulateAnthropicBuffered(t *testing.T) {
	t.Parallel()

	var acc gateway.Accumulator
	body := []byte(`{"id":"msg_2","model":"claude-3-opus","stop_reason":"end_turn","content":[{"type":"text","text":"hi there"}],"usage":{"input_tokens":2,"output_tokens":3,"cache_read_input_tokens":1}}`)
	AccumulateAnthropicBuffered(&acc, body)

	if acc.Content.String() != "hi there" {
		t.Errorf("content = %q", acc.Content.String())
	}
	if acc.CacheReadInputTokens != 1 {
		t.Errorf("cache read tokens = %d, want 1", acc.CacheReadInputTokens)
	}
}
