package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/app"
	"github.com/amppool/gateway/internal/config"
)

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if !decodeRequestBody(w, r, &req, func(w http.ResponseWriter, status int, msg string) {
		writeOpenAIError(w, status, msg, "invalid_request_error")
	}) {
		return
	}

	var snap *config.Snapshot
	if s.deps.Config != nil {
		snap = s.deps.Config.Current()
	}

	provider, err := validateChatRequest(&req, snap)
	if err != nil {
		writeOpenAIGatewayError(w, err)
		return
	}

	logBody := snap != nil && snap.LogConversationContent
	rc := app.NewRequestContext(provider, req.Stream, req.Model, req.APIKey, req.Proxy)

	if provider == gateway.ProviderOpenAI {
		s.handleChatCompletionOpenAI(w, r, rc, &req, logBody)
		return
	}
	s.handleChatCompletionViaAnthropic(w, r, rc, &req, logBody)
}

func (s *server) handleChatCompletionOpenAI(w http.ResponseWriter, r *http.Request, rc *gateway.RequestContext, req *gateway.ChatRequest, logBody bool) {
	if req.Stream {
		ch, err := s.deps.Gateway.ChatCompletionStream(r.Context(), rc, req, logBody)
		if err != nil {
			writeOpenAIGatewayError(w, err)
			return
		}
		s.streamOpenAIChunks(w, r, ch)
		return
	}
	resp, err := s.deps.Gateway.ChatCompletion(r.Context(), rc, req, logBody)
	if err != nil {
		writeOpenAIGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatCompletionViaAnthropic handles the cross-protocol case: the
// client called the OpenAI-compatible endpoint for a model that resolves to
// the Anthropic provider. The request is translated once at the edge;
// internal/app and internal/bridge do the rest (bridge.ReadAnthropicAsOpenAI
// already emits OpenAI-shaped chunks for the streaming case).
func (s *server) handleChatCompletionViaAnthropic(w http.ResponseWriter, r *http.Request, rc *gateway.RequestContext, req *gateway.ChatRequest, logBody bool) {
	anthropicReq := chatRequestToAnthropic(req)

	if req.Stream {
		ch, err := s.deps.Gateway.MessagesStream(r.Context(), rc, anthropicReq, gateway.ProviderOpenAI, logBody)
		if err != nil {
			writeOpenAIGatewayError(w, err)
			return
		}
		s.streamOpenAIChunks(w, r, ch)
		return
	}
	resp, err := s.deps.Gateway.Messages(r.Context(), rc, anthropicReq, logBody)
	if err != nil {
		writeOpenAIGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, anthropicResponseToChat(resp, time.Now().Unix()))
}

// streamOpenAIChunks writes a channel of OpenAI-shaped StreamChunks as SSE,
// with a 15s keep-alive once the first chunk has been sent.
func (s *server) streamOpenAIChunks(w http.ResponseWriter, r *http.Request, ch <-chan gateway.StreamChunk) {
	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	var keepAlive *time.Ticker
	defer func() {
		if keepAlive != nil {
			keepAlive.Stop()
		}
	}()

	for {
		var tick <-chan time.Time
		if keepAlive != nil {
			tick = keepAlive.C
		}
		select {
		case chunk, open := <-ch:
			if !open {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error", slog.String("error", chunk.Err.Error()))
				errBody, _ := json.Marshal(openAIErrorResponse("upstream stream error", "api_error", ""))
				writeSSEData(w, errBody)
				flusher.Flush()
				continue
			}
			if chunk.Done {
				writeSSEDone(w)
				flusher.Flush()
				continue
			}
			writeSSEData(w, chunk.Data)
			flusher.Flush()
			if keepAlive == nil {
				keepAlive = time.NewTicker(15 * time.Second)
			}
		case <-tick:
			writeSSEKeepAlive(w)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
