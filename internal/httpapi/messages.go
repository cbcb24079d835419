package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/app"
	"github.com/amppool/gateway/internal/config"
)

// handleMessages serves /v1/messages for models that resolve to the
// Anthropic provider only. A model resolving to OpenAI is rejected here
// rather than translated, since internal/bridge has no translator from an
// OpenAI upstream response to the Anthropic response shape -- the only
// cross-protocol translator this gateway carries runs the other way, for
// /v1/chat/completions against an Anthropic-resolved model.
func (s *server) handleMessages(w http.ResponseWriter, r *http.Request) {
	var req gateway.AnthropicRequest
	if !decodeRequestBody(w, r, &req, func(w http.ResponseWriter, status int, msg string) {
		writeAnthropicError(w, status, "invalid_request_error", msg)
	}) {
		return
	}

	var snap *config.Snapshot
	if s.deps.Config != nil {
		snap = s.deps.Config.Current()
	}

	provider, err := validateAnthropicRequest(&req, snap)
	if err != nil {
		writeAnthropicGatewayError(w, err)
		return
	}
	if provider != gateway.ProviderAnthropic {
		writeAnthropicError(w, http.StatusBadRequest, "invalid_request_error",
			fmt.Sprintf("model %q does not resolve to the Anthropic provider", req.Model))
		return
	}

	logBody := snap != nil && snap.LogConversationContent
	rc := app.NewRequestContext(provider, req.Stream, req.Model, req.APIKey, req.Proxy)

	if req.Stream {
		ch, err := s.deps.Gateway.MessagesStream(r.Context(), rc, &req, gateway.ProviderAnthropic, logBody)
		if err != nil {
			writeAnthropicGatewayError(w, err)
			return
		}
		s.streamAnthropicChunks(w, r, ch)
		return
	}

	resp, err := s.deps.Gateway.Messages(r.Context(), rc, &req, logBody)
	if err != nil {
		writeAnthropicGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// streamAnthropicChunks forwards already event:/data:-framed Anthropic SSE
// chunks verbatim -- no [DONE] sentinel, matching Anthropic's own wire
// contract (the stream ends with a message_stop event, not a sentinel line).
func (s *server) streamAnthropicChunks(w http.ResponseWriter, r *http.Request, ch <-chan gateway.StreamChunk) {
	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		return
	}
	flusher.Flush()

	for {
		select {
		case chunk, open := <-ch:
			if !open {
				return
			}
			if chunk.Err != nil {
				errBody, _ := json.Marshal(anthropicErrorResponse("api_error", "upstream stream error"))
				writeSSERaw(w, "error", errBody)
				flusher.Flush()
				return
			}
			writeSSERaw(w, chunk.Event, chunk.Data)
			flusher.Flush()
			if chunk.Done {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
