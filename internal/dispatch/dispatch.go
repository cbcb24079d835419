package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/dnscache"

	gateway "github.com/amppool/gateway/internal"
)

// Dispatcher builds per-call HTTP clients and sends exactly one upstream
// request per inbound call -- it never retries.
type Dispatcher struct {
	resolver         *dnscache.Resolver
	OpenAIBaseURL    string
	AnthropicBaseURL string
}

// New constructs a Dispatcher. Empty base URLs fall back to the gateway's
// default upstream provider endpoints.
func New(resolver *dnscache.Resolver, openAIBaseURL, anthropicBaseURL string) *Dispatcher {
	if openAIBaseURL == "" {
		openAIBaseURL = DefaultOpenAIBaseURL
	}
	if anthropicBaseURL == "" {
		anthropicBaseURL = DefaultAnthropicBaseURL
	}
	return &Dispatcher{resolver: resolver, OpenAIBaseURL: openAIBaseURL, AnthropicBaseURL: anthropicBaseURL}
}

// SendOpenAI dispatches a single OpenAI-compatible chat completion call.
func (d *Dispatcher) SendOpenAI(ctx context.Context, rc *gateway.RequestContext, req *gateway.ChatRequest) (*http.Response, error) {
	client, err := NewClient(d.resolver, rc.EgressProxy)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}
	httpReq, err := BuildOpenAIRequest(ctx, d.OpenAIBaseURL, rc.Secret(), req)
	if err != nil {
		return nil, err
	}
	return d.do(client, httpReq, rc)
}

// SendAnthropic dispatches a single Anthropic-native message call.
func (d *Dispatcher) SendAnthropic(ctx context.Context, rc *gateway.RequestContext, req *gateway.AnthropicRequest) (*http.Response, error) {
	client, err := NewClient(d.resolver, rc.EgressProxy)
	if err != nil {
		return nil, fmt.Errorf("build client: %w", err)
	}
	httpReq, err := BuildAnthropicRequest(ctx, d.AnthropicBaseURL, rc.Secret(), req)
	if err != nil {
		return nil, err
	}
	return d.do(client, httpReq, rc)
}

func (d *Dispatcher) do(client *http.Client, httpReq *http.Request, rc *gateway.RequestContext) (*http.Response, error) {
	resp, err := client.Do(httpReq)
	if err != nil {
		rc.FirstError = err.Error()
		return nil, Classify(err.Error()).Err()
	}
	if resp.StatusCode >= 400 {
		rc.FirstError = resp.Status
	}
	return resp, nil
}
