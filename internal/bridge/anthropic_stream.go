// Package bridge implements the dual-protocol streaming bridge: Anthropic
// upstream to OpenAI-SSE downstream translation, same-protocol passthrough,
// and buffered (non-stream) response assembly.
package bridge

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/bridge/sseutil"
)

// ReadAnthropicAsOpenAI reads an Anthropic-native SSE stream from body and
// emits OpenAI-format StreamChunks on ch, mutating acc as it goes. This is
// the cross-protocol translation case (Anthropic upstream to OpenAI-SSE
// downstream).
func ReadAnthropicAsOpenAI(ctx context.Context, body io.ReadCloser, acc *gateway.Accumulator, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)

	var currentEvent string
	for scanner.Scan() {
		line := scanner.Text()
		event, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}
		if event != "" {
			currentEvent = event
			continue
		}
		if data == "" {
			continue
		}

		chunks := handleAnthropicEvent(acc, currentEvent, data)
		for _, c := range chunks {
			select {
			case ch <- c:
			case <-ctx.Done():
				ch <- gateway.StreamChunk{Err: ctx.Err()}
				return
			}
		}
		currentEvent = ""
	}
	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamChunk{Err: fmt.Errorf("bridge: read anthropic stream: %w", err)}
	}
}

// handleAnthropicEvent processes a single Anthropic SSE event, mutating acc
// and returning zero or more OpenAI-format StreamChunks.
func handleAnthropicEvent(acc *gateway.Accumulator, event, data string) []gateway.StreamChunk {
	switch event {
	case "message_start":
		return onMessageStart(acc, data)
	case "content_block_delta":
		return onContentBlockDelta(acc, data)
	case "message_delta":
		return onMessageDelta(acc, data)
	case "message_stop":
		return onMessageStop(acc)
	case "ping", "content_block_start", "content_block_stop":
		return nil
	default:
		return nil
	}
}

func onMessageStart(acc *gateway.Accumulator, data string) []gateway.StreamChunk {
	r := gjson.Parse(data)
	acc.MessageID = r.Get("message.id").String()
	acc.Model = r.Get("message.model").String()
	acc.InputTokens = int(r.Get("message.usage.input_tokens").Int())
	acc.CacheCreationInputTokens = int(r.Get("message.usage.cache_creation_input_tokens").Int())
	acc.CacheReadInputTokens = int(r.Get("message.usage.cache_read_input_tokens").Int())

	chunk := sseutil.BuildDeltaChunk(acc.MessageID, acc.Model, map[string]any{"role": "assistant"}, "")
	return []gateway.StreamChunk{{Data: chunk}}
}

func onContentBlockDelta(acc *gateway.Accumulator, data string) []gateway.StreamChunk {
	r := gjson.Parse(data)
	if r.Get("delta.type").String() != "text_delta" {
		return nil
	}
	text := r.Get("delta.text").String()
	acc.Content.WriteString(text)
	chunk := sseutil.BuildDeltaChunk(acc.MessageID, acc.Model, map[string]any{"content": text}, "")
	return []gateway.StreamChunk{{Data: chunk}}
}

// onMessageDelta overwrites (never adds to) output_tokens/credits with the
// cumulative snapshot carried on this event -- Anthropic sends the running
// total on every message_delta, not just the terminal one, so treating it as
// additive would double-count.
func onMessageDelta(acc *gateway.Accumulator, data string) []gateway.StreamChunk {
	r := gjson.Parse(data)
	if v := r.Get("usage.output_tokens"); v.Exists() {
		acc.OutputTokens = int(v.Int())
	}
	if v := r.Get("usage.credits"); v.Exists() {
		if d, err := decimal.NewFromString(v.String()); err == nil {
			acc.Credits = d
		}
	}
	if v := r.Get("delta.stop_reason"); v.Exists() {
		acc.StopReason = v.String()
	}
	return nil
}

func onMessageStop(acc *gateway.Accumulator) []gateway.StreamChunk {
	finishReason := MapStopReason(acc.StopReason)
	finishChunk := sseutil.BuildFinishChunk(acc.MessageID, acc.Model, finishReason)

	usage := &gateway.Usage{
		PromptTokens:     acc.InputTokens,
		CompletionTokens: acc.OutputTokens,
		TotalTokens:      acc.InputTokens + acc.OutputTokens,
	}
	usageChunk := sseutil.BuildUsageChunk(acc.MessageID, acc.Model, usage)

	return []gateway.StreamChunk{
		{Data: finishChunk},
		{Data: usageChunk, Usage: usage},
		{Done: true},
	}
}

// MapStopReason translates an Anthropic stop_reason into an OpenAI
// finish_reason. Only the three reasons spec.md defines are mapped;
// anything else (including tool_use, which this gateway has no tool-call
// surface for) falls through to the reason string unchanged.
func MapStopReason(reason string) string {
	switch reason {
	case "end_turn":
		return "stop"
	case "max_tokens":
		return "length"
	case "stop_sequence":
		return "stop"
	case "":
		return ""
	default:
		return reason
	}
}
