package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/app"
	"github.com/amppool/gateway/internal/config"
	"github.com/amppool/gateway/internal/dispatch"
	"github.com/amppool/gateway/internal/keypool"
)

type fakeKeyStore struct {
	available []*gateway.Credential
}

func (f *fakeKeyStore) ListAvailable(ctx context.Context, excludeIDs []int64, limit int) ([]*gateway.Credential, error) {
	excluded := map[int64]bool{}
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

type noopDisabler struct{}

func (noopDisabler) Disable(ctx context.Context, id int64, reason gateway.ObservedError) error { return nil }

type noopLogs struct{}

func (noopLogs) Enqueue(ctx context.Context, rec *gateway.RequestLog) error { return nil }

func newTestServer(t *testing.T, openAIBaseURL, anthropicBaseURL string, snap *config.Snapshot) http.Handler {
	t.Helper()
	pool := keypool.New(&fakeKeyStore{available: []*gateway.Credential{{ID: 1, Secret: "sk-1", Enabled: true}}}, 5)
	d := dispatch.New(nil, openAIBaseURL, anthropicBaseURL)
	gw := app.New(pool, d, noopDisabler{}, noopLogs{}, nil)
	reg := config.NewRegistry(snap)
	return New(Deps{Gateway: gw, Config: reg})
}

func defaultSnapshot() *config.Snapshot {
	return &config.Snapshot{
		OpenAIModels:    []string{"gpt-4o"},
		AnthropicModels: []string{"claude-3-opus"},
	}
}

func TestHandleChatCompletionOpenAISuccess(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`)
	}))
	defer upstream.Close()

	h := newTestServer(t, upstream.URL, upstream.URL, defaultSnapshot())
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(gateway.ChatRequest{Model: "gpt-4o", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}})
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got gateway.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", got.Model)
	}
}

func TestHandleChatCompletionRejectsDisallowedModel(t *testing.T) {
	h := newTestServer(t, "http://unused.test", "http://unused.test", defaultSnapshot())
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(gateway.ChatRequest{Model: "gpt-9-nonexistent", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}})
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleChatCompletionRejectsBadTemperature(t *testing.T) {
	h := newTestServer(t, "http://unused.test", "http://unused.test", defaultSnapshot())
	srv := httptest.NewServer(h)
	defer srv.Close()

	bad := 5.0
	body, _ := json.Marshal(gateway.ChatRequest{Model: "gpt-4o", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}, Temperature: &bad})
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleMessagesRejectsOpenAIModel(t *testing.T) {
	h := newTestServer(t, "http://unused.test", "http://unused.test", defaultSnapshot())
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(gateway.AnthropicRequest{Model: "gpt-4o", Messages: []gateway.AnthropicMessage{{Role: "user", Content: "hi"}}, MaxTokens: 64})
	resp, err := http.Post(srv.URL+"/v1/messages", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHandleChatCompletionCrossProtocolToAnthropic(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-3-opus","content":[{"type":"text","text":"hi there"}],"stop_reason":"end_turn","usage":{"input_tokens":3,"output_tokens":2}}`)
	}))
	defer upstream.Close()

	h := newTestServer(t, upstream.URL, upstream.URL, defaultSnapshot())
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(gateway.ChatRequest{Model: "claude-3-opus", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}})
	resp, err := http.Post(srv.URL+"/v1/chat/completions", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var got gateway.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Choices) != 1 || got.Choices[0].Message.Content != "hi there" {
		t.Errorf("choices = %+v, want one choice with content %q", got.Choices, "hi there")
	}
}

func TestHandleListModelsOpenAIShape(t *testing.T) {
	h := newTestServer(t, "http://unused.test", "http://unused.test", defaultSnapshot())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/models")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var got openAIModelList
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Data) != 2 {
		t.Errorf("models = %d, want 2 (both providers)", len(got.Data))
	}
}

func TestHandleListModelsAnthropicShape(t *testing.T) {
	h := newTestServer(t, "http://unused.test", "http://unused.test", defaultSnapshot())
	srv := httptest.NewServer(h)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/models", nil)
	req.Header.Set("anthropic-version", "2023-06-01")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var got anthropicModelList
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Data) != 1 || got.Data[0].ID != "claude-3-opus" {
		t.Errorf("models = %+v, want [claude-3-opus]", got.Data)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestServer(t, "http://unused.test", "http://unused.test", defaultSnapshot())
	srv := httptest.NewServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAuthenticateRejectsWrongBearer(t *testing.T) {
	snap := defaultSnapshot()
	snap.APISecret = "s3cret"
	h := newTestServer(t, "http://unused.test", "http://unused.test", snap)
	srv := httptest.NewServer(h)
	defer srv.Close()

	body, _ := json.Marshal(gateway.ChatRequest{Model: "gpt-4o", Messages: []gateway.ChatMessage{{Role: "user", Content: "hi"}}})
	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/chat/completions", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
