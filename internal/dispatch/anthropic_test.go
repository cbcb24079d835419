package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	gateway "github.com/amppool/gateway/internal"
)

func TestBuildAnthropicRequestDefaultsMaxTokens(t *testing.T) {
	req := &gateway.AnthropicRequest{Model: "claude-sonnet-4-5", Messages: []gateway.AnthropicMessage{{Role: "user", Content: "hi"}}}
	httpReq, err := BuildAnthropicRequest(context.Background(), "https://example.test", "sk-ant", req)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(httpReq.Body)
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["max_tokens"].(float64) != defaultMaxTokens {
		t.Errorf("max_tokens = %v, want %d", decoded["max_tokens"], defaultMaxTokens)
	}
	if got := httpReq.Header.Get("anthropic-version"); got != anthropicVersion {
		t.Errorf("anthropic-version = %q", got)
	}
	if got := httpReq.Header.Get("x-api-key"); got != "sk-ant" {
		t.Errorf("x-api-key = %q", got)
	}
}

func TestBuildAnthropicRequestWrapsStopSequences(t *testing.T) {
	req := &gateway.AnthropicRequest{
		Model:         "claude-sonnet-4-5",
		Messages:      []gateway.AnthropicMessage{{Role: "user", Content: "hi"}},
		MaxTokens:     100,
		StopSequences: StopToStopSequences("END"),
	}
	httpReq, err := BuildAnthropicRequest(context.Background(), "https://example.test", "sk-ant", req)
	if err != nil {
		t.Fatal(err)
	}
	raw, _ := io.ReadAll(httpReq.Body)
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	seqs, ok := decoded["stop_sequences"].([]any)
	if !ok || len(seqs) != 1 || seqs[0] != "END" {
		t.Errorf("stop_sequences = %v", decoded["stop_sequences"])
	}
	if _, present := decoded["n"]; present {
		t.Error("n has no Anthropic equivalent and must be dropped")
	}
}
