package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/dispatch"
	"github.com/amppool/gateway/internal/keypool"
)

type fakeKeyStore struct {
	available []*gateway.Credential
}

func (f *fakeKeyStore) ListAvailable(ctx context.Context, excludeIDs []int64, limit int) ([]*gateway.Credential, error) {
	excluded := make(map[int64]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	var out []*gateway.Credential
	for _, c := range f.available {
		if !excluded[c.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeDisabler struct {
	mu       sync.Mutex
	disabled map[int64]gateway.ObservedError
}

func (f *fakeDisabler) Disable(ctx context.Context, id int64, reason gateway.ObservedError) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disabled == nil {
		f.disabled = map[int64]gateway.ObservedError{}
	}
	f.disabled[id] = reason
	return nil
}

type fakeLogs struct {
	mu   sync.Mutex
	rows []*gateway.RequestLog
}

func (f *fakeLogs) Enqueue(ctx context.Context, rec *gateway.RequestLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rec)
	return nil
}

func (f *fakeLogs) last() *gateway.RequestLog {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.rows) == 0 {
		return nil
	}
	return f.rows[len(f.rows)-1]
}

func newTestGateway(t *testing.T, creds []*gateway.Credential, openAIBaseURL, anthropicBaseURL string) (*Gateway, *fakeDisabler, *fakeLogs) {
	t.Helper()
	pool := keypool.New(&fakeKeyStore{available: creds}, 5)
	d := dispatch.New(nil, openAIBaseURL, anthropicBaseURL)
	disabler := &fakeDisabler{}
	logs := &fakeLogs{}
	return New(pool, d, disabler, logs, nil), disabler, logs
}

func TestChatCompletionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`)
	}))
	defer srv.Close()

	gw, _, logs := newTestGateway(t, []*gateway.Credential{{ID: 1, Secret: "sk-1", Enabled: true}}, srv.URL, srv.URL)
	rc := NewRequestContext(gateway.ProviderOpenAI, false, "gpt-4o", "", "")
	req := &gateway.ChatRequest{Model: "gpt-4o", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}}

	resp, err := gw.ChatCompletion(context.Background(), rc, req, false)
	if err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("total_tokens = %d, want 5", resp.Usage.TotalTokens)
	}

	row := logs.last()
	if row == nil {
		t.Fatal("expected a log row to be enqueued")
	}
	if row.Status != gateway.LogStatusSuccess {
		t.Errorf("status = %q, want success", row.Status)
	}
	if row.KeyID != 1 {
		t.Errorf("key_id = %d, want 1", row.KeyID)
	}
	if row.HTTPStatus != http.StatusOK {
		t.Errorf("http_status = %d, want 200", row.HTTPStatus)
	}
}

func TestChatCompletionNoCredential(t *testing.T) {
	gw, _, logs := newTestGateway(t, nil, "http://unused.test", "http://unused.test")
	rc := NewRequestContext(gateway.ProviderOpenAI, false, "gpt-4o", "", "")
	req := &gateway.ChatRequest{Model: "gpt-4o", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}}

	_, err := gw.ChatCompletion(context.Background(), rc, req, false)
	if err == nil {
		t.Fatal("expected an error when the pool is empty")
	}

	row := logs.last()
	if row == nil {
		t.Fatal("expected a log row even on failure")
	}
	if row.ErrorType != gateway.ErrorTypeNoCred {
		t.Errorf("error_type = %q, want no-credential", row.ErrorType)
	}
	if row.HTTPStatus != http.StatusServiceUnavailable {
		t.Errorf("http_status = %d, want 503", row.HTTPStatus)
	}
}

func TestChatCompletionAuthFailureEvictsAndDisables(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	defer srv.Close()

	gw, disabler, logs := newTestGateway(t, []*gateway.Credential{{ID: 7, Secret: "sk-bad", Enabled: true}}, srv.URL, srv.URL)
	rc := NewRequestContext(gateway.ProviderOpenAI, false, "gpt-4o", "", "")
	req := &gateway.ChatRequest{Model: "gpt-4o", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}}

	_, err := gw.ChatCompletion(context.Background(), rc, req, false)
	if err == nil {
		t.Fatal("expected an auth error")
	}
	if gw.Pool.Len() != 0 {
		t.Errorf("pool size = %d, want 0 after eviction", gw.Pool.Len())
	}
	if _, ok := disabler.disabled[7]; !ok {
		t.Error("expected credential 7 to be disabled")
	}

	row := logs.last()
	if row.ErrorType != gateway.ErrorTypeAuth {
		t.Errorf("error_type = %q, want auth", row.ErrorType)
	}
	if row.HTTPStatus != http.StatusUnauthorized {
		t.Errorf("http_status = %d, want 401", row.HTTPStatus)
	}
}

func TestChatCompletionClientSuppliedSecretBypassesPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-client" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"id":"chatcmpl-2","model":"gpt-4o","choices":[],"usage":{}}`)
	}))
	defer srv.Close()

	gw, _, _ := newTestGateway(t, nil, srv.URL, srv.URL)
	rc := NewRequestContext(gateway.ProviderOpenAI, false, "gpt-4o", "sk-client", "")
	req := &gateway.ChatRequest{Model: "gpt-4o", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}}

	if _, err := gw.ChatCompletion(context.Background(), rc, req, false); err != nil {
		t.Fatalf("ChatCompletion: %v", err)
	}
	if rc.FromPool {
		t.Error("FromPool should be false for a client-supplied secret")
	}
	if rc.KeyID() != 0 {
		t.Errorf("KeyID() = %d, want 0", rc.KeyID())
	}
}

func TestMessagesStreamAnthropicPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		fmt.Fprint(w, "event: message_start\ndata: {\"message\":{\"id\":\"msg_1\",\"model\":\"claude-3-opus\",\"usage\":{\"input_tokens\":5}}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: content_block_delta\ndata: {\"delta\":{\"type\":\"text_delta\",\"text\":\"hi\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: message_delta\ndata: {\"usage\":{\"output_tokens\":3,\"credits\":\"0.002\"},\"delta\":{\"stop_reason\":\"end_turn\"}}\n\n")
		flusher.Flush()
		fmt.Fprint(w, "event: message_stop\ndata: {}\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	gw, _, logs := newTestGateway(t, []*gateway.Credential{{ID: 1, Secret: "sk-1", Enabled: true}}, srv.URL, srv.URL)
	rc := NewRequestContext(gateway.ProviderAnthropic, true, "claude-3-opus", "", "")
	req := &gateway.AnthropicRequest{Model: "claude-3-opus", Messages: []gateway.AnthropicMessage{{Role: "user", Content: "hi"}}, MaxTokens: 256, Stream: true}

	ch, err := gw.MessagesStream(context.Background(), rc, req, gateway.ProviderAnthropic, false)
	if err != nil {
		t.Fatalf("MessagesStream: %v", err)
	}

	var gotStop bool
	for chunk := range ch {
		if chunk.Done {
			gotStop = true
		}
	}
	if !gotStop {
		t.Error("expected a terminal chunk")
	}

	row := logs.last()
	if row == nil {
		t.Fatal("expected a log row after stream completion")
	}
	if row.OutputTokens != 3 {
		t.Errorf("output_tokens = %d, want 3", row.OutputTokens)
	}
	if row.CostUSD.String() != "0.002" {
		t.Errorf("cost_usd = %s, want 0.002", row.CostUSD.String())
	}
}
