package bridge

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/bridge/sseutil"
)

// ReadOpenAIPassthrough reads an OpenAI-native SSE stream and forwards each
// chunk unchanged, mutating acc from the data it sees along the way. Used
// when the requested model and the client protocol are both OpenAI-shaped.
func ReadOpenAIPassthrough(ctx context.Context, resp *http.Response, acc *gateway.Accumulator, ch chan<- gateway.StreamChunk) {
	raw := make(chan gateway.StreamChunk)
	go sseutil.ReadSSEStream(ctx, "openai", resp, raw)
	for chunk := range raw {
		if len(chunk.Data) > 0 {
			r := gjson.ParseBytes(chunk.Data)
			if acc.MessageID == "" {
				acc.MessageID = r.Get("id").String()
				acc.Model = r.Get("model").String()
			}
			if delta := r.Get("choices.0.delta.content"); delta.Exists() {
				acc.Content.WriteString(delta.String())
			}
			if fr := r.Get("choices.0.finish_reason"); fr.Exists() && fr.String() != "" {
				acc.StopReason = fr.String()
			}
		}
		if chunk.Usage != nil {
			acc.InputTokens = chunk.Usage.PromptTokens
			acc.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Data) > 0 {
			if v := gjson.GetBytes(chunk.Data, "usage.credits"); v.Exists() {
				if d, err := decimal.NewFromString(v.String()); err == nil {
					acc.Credits = d
				}
			}
		}
		select {
		case ch <- chunk:
		case <-ctx.Done():
		}
		if chunk.Done || chunk.Err != nil {
			break
		}
	}
	close(ch)
}

// ReadAnthropicPassthrough reads an Anthropic-native SSE stream and forwards
// each event unchanged (no [DONE] sentinel, event:/data: framing kept as-is),
// mutating acc from the events it sees along the way. Used when the
// requested model and the client protocol are both Anthropic-shaped.
func ReadAnthropicPassthrough(ctx context.Context, body io.ReadCloser, acc *gateway.Accumulator, ch chan<- gateway.StreamChunk) {
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

		accumulateAnthropicPassthroughEvent(acc, currentEvent, data)

		chunk := gateway.StreamChunk{Data: []byte(data), Event: currentEvent}
		if currentEvent == "message_stop" {
			chunk.Done = true
		}
		select {
		case ch <- chunk:
		case <-ctx.Done():
			ch <- gateway.StreamChunk{Err: ctx.Err()}
			return
		}
		if chunk.Done {
			return
		}
		currentEvent = ""
	}
	if err := scanner.Err(); err != nil {
		ch <- gateway.StreamChunk{Err: fmt.Errorf("bridge: read anthropic passthrough stream: %w", err)}
	}
}

func accumulateAnthropicPassthroughEvent(acc *gateway.Accumulator, event, data string) {
	r := gjson.Parse(data)
	switch event {
	case "message_start":
		acc.MessageID = r.Get("message.id").String()
		acc.Model = r.Get("message.model").String()
		acc.InputTokens = int(r.Get("message.usage.input_tokens").Int())
		acc.CacheCreationInputTokens = int(r.Get("message.usage.cache_creation_input_tokens").Int())
		acc.CacheReadInputTokens = int(r.Get("message.usage.cache_read_input_tokens").Int())
	case "content_block_delta":
		if r.Get("delta.type").String() == "text_delta" {
			acc.Content.WriteString(r.Get("delta.text").String())
		}
	case "message_delta":
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
	}
}
