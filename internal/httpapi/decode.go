package httpapi

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
)

var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

const maxRequestBody = 4 << 20

// decodeRequestBody reads r's body via bodyPool and unmarshals it into v. On
// any failure it writes the given error responder and returns false; callers
// must return immediately. Decode failures never reach validateChatRequest/
// validateAnthropicRequest, so they never produce a request_log row.
func decodeRequestBody(w http.ResponseWriter, r *http.Request, v any, onError func(w http.ResponseWriter, status int, msg string)) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bodyPool.Put(buf)

	if _, err := buf.ReadFrom(r.Body); err != nil {
		onError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := json.Unmarshal(buf.Bytes(), v); err != nil {
		slog.LogAttrs(r.Context(), slog.LevelWarn, "request decode error", slog.String("error", err.Error()))
		onError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
