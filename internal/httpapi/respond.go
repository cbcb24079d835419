package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	gateway "github.com/amppool/gateway/internal"
)

// jsonCT is a pre-allocated header value slice. Direct map assignment avoids
// the []string{v} alloc that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}

// openAIError is the OpenAI-compatible error envelope.
type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func openAIErrorResponse(msg, typ, code string) openAIError {
	var e openAIError
	e.Error.Message = msg
	e.Error.Type = typ
	e.Error.Code = code
	return e
}

// anthropicError is the Anthropic-native error envelope the gateway writes
// itself for failures on /v1/messages and for Anthropic mid-stream errors.
type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func anthropicErrorResponse(errType, msg string) anthropicError {
	var e anthropicError
	e.Type = "error"
	e.Error.Type = errType
	e.Error.Message = msg
	return e
}

func writeOpenAIError(w http.ResponseWriter, status int, msg, typ string) {
	writeJSON(w, status, openAIErrorResponse(msg, typ, ""))
}

func writeAnthropicError(w http.ResponseWriter, status int, errType, msg string) {
	writeJSON(w, status, anthropicErrorResponse(errType, msg))
}

// statusForGatewayErr maps a sentinel gateway error to the HTTP status the
// client sees. ErrValidation is reported as 400 regardless of its wrapped
// cause since validation runs before any dispatch is attempted.
func statusForGatewayErr(err error) int {
	switch {
	case errors.Is(err, gateway.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, gateway.ErrNoCredential):
		return http.StatusServiceUnavailable
	case errors.Is(err, gateway.ErrAuth):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}

func writeOpenAIGatewayError(w http.ResponseWriter, err error) {
	status := statusForGatewayErr(err)
	writeOpenAIError(w, status, http.StatusText(status), "invalid_request_error")
}

func writeAnthropicGatewayError(w http.ResponseWriter, err error) {
	status := statusForGatewayErr(err)
	errType := "api_error"
	switch status {
	case http.StatusBadRequest:
		errType = "invalid_request_error"
	case http.StatusUnauthorized:
		errType = "authentication_error"
	case http.StatusServiceUnavailable:
		errType = "overloaded_error"
	}
	writeAnthropicError(w, status, errType, http.StatusText(status))
}

// --- SSE framing (OpenAI side; Anthropic passthrough writes raw event:/data: frames itself) ---

var (
	sseDataPrefix = []byte("data: ")
	sseNewline    = []byte("\n\n")
	sseDone       = []byte("data: [DONE]\n\n")
	sseKeepAlive  = []byte(": keep-alive\n\n")
)

var (
	sseHeaders      = []string{"text/event-stream"}
	sseCacheControl = []string{"no-cache"}
	sseConnection   = []string{"keep-alive"}
	sseAccelBuf     = []string{"no"}
)

func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h["Content-Type"] = sseHeaders
	h["Cache-Control"] = sseCacheControl
	h["Connection"] = sseConnection
	h["X-Accel-Buffering"] = sseAccelBuf
	w.WriteHeader(http.StatusOK)
}

func writeSSEData(w http.ResponseWriter, data []byte) {
	w.Write(sseDataPrefix)
	w.Write(data)
	w.Write(sseNewline)
}

func writeSSEDone(w http.ResponseWriter) {
	w.Write(sseDone)
}

func writeSSEKeepAlive(w http.ResponseWriter) {
	w.Write(sseKeepAlive)
}

// writeSSERaw writes an already event:/data:-framed Anthropic chunk verbatim,
// re-appending the blank-line terminator the sseutil scanner strips.
func writeSSERaw(w http.ResponseWriter, event string, data []byte) {
	if event != "" {
		w.Write([]byte("event: "))
		w.Write([]byte(event))
		w.Write([]byte("\n"))
	}
	w.Write(sseDataPrefix)
	w.Write(data)
	w.Write(sseNewline)
}
