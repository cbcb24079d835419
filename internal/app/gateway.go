// Package app wires the key pool, upstream dispatcher, streaming/buffered
// bridge, and request-log writer into the per-request orchestration the HTTP
// transport layer calls into. Unlike the teacher's app.ProxyService there is
// no provider registry and no failover loop: each model resolves to exactly
// one provider via gateway.ResolveProvider, and a failed call is reported to
// the caller rather than retried against an alternate target.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	gateway "github.com/amppool/gateway/internal"
	"github.com/amppool/gateway/internal/bridge"
	"github.com/amppool/gateway/internal/dispatch"
	"github.com/amppool/gateway/internal/keypool"
	"github.com/amppool/gateway/internal/telemetry"
)

// CredentialDisabler is the narrow store surface Gateway needs to act on an
// auth failure observed from a pool-sourced credential.
type CredentialDisabler interface {
	Disable(ctx context.Context, id int64, reason gateway.ObservedError) error
}

// LogEnqueuer is the narrow surface of the request-log writer Gateway drains
// every finished request into.
type LogEnqueuer interface {
	Enqueue(ctx context.Context, rec *gateway.RequestLog) error
}

// Gateway orchestrates a single proxied request across the key pool, the
// upstream dispatcher, the streaming/buffered bridge, and the request-log
// writer. It never retries.
type Gateway struct {
	Pool       *keypool.Pool
	Dispatcher *dispatch.Dispatcher
	Store      CredentialDisabler
	Logs       LogEnqueuer
	Metrics    *telemetry.Metrics
}

// New constructs a Gateway from its five collaborators.
func New(pool *keypool.Pool, dispatcher *dispatch.Dispatcher, store CredentialDisabler, logs LogEnqueuer, metrics *telemetry.Metrics) *Gateway {
	return &Gateway{Pool: pool, Dispatcher: dispatcher, Store: store, Logs: logs, Metrics: metrics}
}

// NewRequestContext builds a fresh RequestContext for one inbound call.
// clientSecret is the client-supplied api_key, if any; an empty value means
// the pool must supply a credential. requestedProxy is the egress proxy in
// effect unless a pool credential's bound proxy replaces it.
func NewRequestContext(provider gateway.Provider, stream bool, requestedModel, clientSecret, requestedProxy string) *gateway.RequestContext {
	return &gateway.RequestContext{
		Provider:       provider,
		Stream:         stream,
		ClientSecret:   clientSecret,
		RequestedProxy: requestedProxy,
		EgressProxy:    requestedProxy,
		RequestedModel: requestedModel,
		StartedAt:      time.Now(),
	}
}

// ChatCompletion dispatches a non-stream OpenAI-compatible request.
func (g *Gateway) ChatCompletion(ctx context.Context, rc *gateway.RequestContext, req *gateway.ChatRequest, logBody bool) (*gateway.ChatResponse, error) {
	var reqBody []byte
	if logBody {
		reqBody, _ = json.Marshal(req)
	}

	if err := g.selectCredential(ctx, rc); err != nil {
		g.finish(ctx, rc, err, reqBody, nil)
		return nil, err
	}

	resp, err := g.Dispatcher.SendOpenAI(ctx, rc, req)
	if err != nil {
		g.handleDispatchError(ctx, rc, err)
		g.finish(ctx, rc, err, reqBody, nil)
		return nil, err
	}
	defer resp.Body.Close()

	data, respBody, err := g.readUpstreamBody(resp, logBody)
	if err != nil {
		g.handleDispatchError(ctx, rc, err)
		g.finish(ctx, rc, err, reqBody, respBody)
		return nil, err
	}

	chatResp, err := bridge.BuildOpenAIChatResponse(data, time.Now().Unix())
	if err != nil {
		werr := fmt.Errorf("%w: %v", gateway.ErrParse, err)
		g.finish(ctx, rc, werr, reqBody, respBody)
		return nil, werr
	}
	bridge.AccumulateOpenAIBuffered(&rc.Acc, data)
	rc.EchoedModel = chatResp.Model

	g.finish(ctx, rc, nil, reqBody, respBody)
	return chatResp, nil
}

// ChatCompletionStream dispatches a streaming request to the OpenAI-compatible
// upstream. The returned channel carries the upstream's OpenAI-shaped
// StreamChunks; the caller (internal/httpapi) forwards them to the client as
// SSE. The request log row is enqueued automatically once the channel closes.
func (g *Gateway) ChatCompletionStream(ctx context.Context, rc *gateway.RequestContext, req *gateway.ChatRequest, logBody bool) (<-chan gateway.StreamChunk, error) {
	var reqBody []byte
	if logBody {
		reqBody, _ = json.Marshal(req)
	}

	if err := g.selectCredential(ctx, rc); err != nil {
		g.finish(ctx, rc, err, reqBody, nil)
		return nil, err
	}

	resp, err := g.Dispatcher.SendOpenAI(ctx, rc, req)
	if err != nil {
		g.handleDispatchError(ctx, rc, err)
		g.finish(ctx, rc, err, reqBody, nil)
		return nil, err
	}

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		err := classifyUpstreamStatus(resp.StatusCode, string(data))
		g.handleDispatchError(ctx, rc, err)
		g.finish(ctx, rc, err, reqBody, data)
		return nil, err
	}

	ch := make(chan gateway.StreamChunk, 8)
	go bridge.ReadOpenAIPassthrough(ctx, resp, &rc.Acc, ch)
	return wrapStreamFinish(ctx, g, rc, reqBody, ch), nil
}

// Messages dispatches a non-stream Anthropic-native request.
func (g *Gateway) Messages(ctx context.Context, rc *gateway.RequestContext, req *gateway.AnthropicRequest, logBody bool) (*gateway.AnthropicResponse, error) {
	var reqBody []byte
	if logBody {
		reqBody, _ = json.Marshal(req)
	}

	if err := g.selectCredential(ctx, rc); err != nil {
		g.finish(ctx, rc, err, reqBody, nil)
		return nil, err
	}

	resp, err := g.Dispatcher.SendAnthropic(ctx, rc, req)
	if err != nil {
		g.handleDispatchError(ctx, rc, err)
		g.finish(ctx, rc, err, reqBody, nil)
		return nil, err
	}
	defer resp.Body.Close()

	data, respBody, err := g.readUpstreamBody(resp, logBody)
	if err != nil {
		g.handleDispatchError(ctx, rc, err)
		g.finish(ctx, rc, err, reqBody, respBody)
		return nil, err
	}

	msgResp, err := bridge.BuildAnthropicMessageResponse(data)
	if err != nil {
		werr := fmt.Errorf("%w: %v", gateway.ErrParse, err)
		g.finish(ctx, rc, werr, reqBody, respBody)
		return nil, werr
	}
	bridge.AccumulateAnthropicBuffered(&rc.Acc, data)
	rc.EchoedModel = msgResp.Model

	g.finish(ctx, rc, nil, reqBody, respBody)
	return msgResp, nil
}

// MessagesStream dispatches a streaming Anthropic-native request. When the
// client also speaks Anthropic (downstreamProtocol == gateway.ProviderAnthropic)
// the upstream SSE is forwarded unchanged; otherwise it is translated into
// OpenAI-shaped chunks.
func (g *Gateway) MessagesStream(ctx context.Context, rc *gateway.RequestContext, req *gateway.AnthropicRequest, downstreamProtocol gateway.Provider, logBody bool) (<-chan gateway.StreamChunk, error) {
	var reqBody []byte
	if logBody {
		reqBody, _ = json.Marshal(req)
	}

	if err := g.selectCredential(ctx, rc); err != nil {
		g.finish(ctx, rc, err, reqBody, nil)
		return nil, err
	}

	resp, err := g.Dispatcher.SendAnthropic(ctx, rc, req)
	if err != nil {
		g.handleDispatchError(ctx, rc, err)
		g.finish(ctx, rc, err, reqBody, nil)
		return nil, err
	}

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		err := classifyUpstreamStatus(resp.StatusCode, string(data))
		g.handleDispatchError(ctx, rc, err)
		g.finish(ctx, rc, err, reqBody, data)
		return nil, err
	}

	ch := make(chan gateway.StreamChunk, 8)
	if downstreamProtocol == gateway.ProviderAnthropic {
		go bridge.ReadAnthropicPassthrough(ctx, resp.Body, &rc.Acc, ch)
	} else {
		go bridge.ReadAnthropicAsOpenAI(ctx, resp.Body, &rc.Acc, ch)
	}
	return wrapStreamFinish(ctx, g, rc, reqBody, ch), nil
}

// selectCredential resolves rc's credential via the pool (a no-op when the
// client already supplied its own secret).
func (g *Gateway) selectCredential(ctx context.Context, rc *gateway.RequestContext) error {
	if rc.ClientSecret != "" {
		rc.FromPool = false
		return nil
	}
	_, err := g.Pool.Select(ctx, rc)
	return err
}

// readUpstreamBody reads resp.Body's content (closing it is left to the
// caller), returning the parse buffer plus (when logBody) the bytes to
// persist on the log row.
func (g *Gateway) readUpstreamBody(resp *http.Response, logBody bool) (data []byte, respBody []byte, err error) {
	if resp.StatusCode >= 400 {
		data, _ = io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		err = classifyUpstreamStatus(resp.StatusCode, string(data))
		if logBody {
			respBody = data
		}
		return nil, respBody, err
	}
	data, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", gateway.ErrParse, err)
	}
	if logBody {
		respBody = data
	}
	return data, respBody, nil
}

// handleDispatchError evicts and disables a pool-sourced credential when the
// observed failure classifies as an auth error -- the only classification
// that triggers disablement.
func (g *Gateway) handleDispatchError(ctx context.Context, rc *gateway.RequestContext, err error) {
	if !rc.FromPool || rc.Credential == nil {
		return
	}
	if !errors.Is(err, gateway.ErrAuth) {
		return
	}
	id := rc.Credential.ID
	g.Pool.Evict(id)
	if g.Store == nil {
		return
	}
	if derr := g.Store.Disable(ctx, id, gateway.ObservedUnauthorized); derr != nil {
		slog.LogAttrs(ctx, slog.LevelError, "credential disable failed",
			slog.Int64("key_id", id), slog.String("error", derr.Error()))
	}
}

// wrapStreamFinish returns a channel that re-emits every chunk from src
// unchanged and, once src closes, builds and enqueues the request log row
// from rc's final accumulator state.
func wrapStreamFinish(ctx context.Context, g *Gateway, rc *gateway.RequestContext, reqBody []byte, src <-chan gateway.StreamChunk) <-chan gateway.StreamChunk {
	out := make(chan gateway.StreamChunk, 8)
	go func() {
		defer close(out)
		var streamErr error
		for chunk := range src {
			if chunk.Err != nil {
				streamErr = chunk.Err
			}
			out <- chunk
		}
		g.finish(ctx, rc, streamErr, reqBody, nil)
	}()
	return out
}

// finish builds a RequestLog row from rc's final state and enqueues it. It
// never returns an error to the caller -- enqueue and log-writer failures are
// logged only (here and in internal/telemetry.LogWriter.write), never
// surfaced and not counted by any metric.
func (g *Gateway) finish(ctx context.Context, rc *gateway.RequestContext, err error, reqBody, respBody []byte) {
	now := time.Now()
	rec := &gateway.RequestLog{
		ID:               uuid.NewString(),
		StartedAt:        rc.StartedAt,
		FinishedAt:       now,
		KeyID:            rc.KeyID(),
		SecretUsed:       rc.Secret(),
		EgressProxyUsed:  rc.EgressProxy,
		RequestedModel:   rc.RequestedModel,
		EchoedModel:      rc.EchoedModel,
		Provider:         rc.Provider,
		PromptTokens:     rc.Acc.InputTokens,
		CompletionTokens: rc.Acc.OutputTokens,
		TotalTokens:      rc.Acc.InputTokens + rc.Acc.OutputTokens,
		InputTokens:      rc.Acc.InputTokens,
		OutputTokens:     rc.Acc.OutputTokens,
		CacheCreationInputTokens: rc.Acc.CacheCreationInputTokens,
		CacheReadInputTokens:     rc.Acc.CacheReadInputTokens,
		CostUSD:                  rc.Acc.Credits,
		LatencyMs:                int(now.Sub(rc.StartedAt).Milliseconds()),
	}

	if err != nil {
		rec.Status = gateway.LogStatusError
		rec.ErrorMessage = err.Error()
		rec.ErrorType = classifyError(err)
		rec.HTTPStatus = statusForError(err)
	} else {
		rec.Status = gateway.LogStatusSuccess
		rec.HTTPStatus = http.StatusOK
	}

	if reqBody != nil {
		s := string(reqBody)
		rec.RequestBody = &s
	}
	if respBody != nil {
		s := string(respBody)
		rec.ResponseBody = &s
	}

	if g.Metrics != nil {
		status := "success"
		errType := string(rec.ErrorType)
		if err != nil {
			status = "error"
		}
		g.Metrics.RequestsTotal.WithLabelValues(string(rc.Provider), status, errType).Inc()
		g.Metrics.RequestDuration.WithLabelValues(string(rc.Provider)).Observe(float64(rec.LatencyMs) / 1000)
		if rec.EchoedModel != "" {
			g.Metrics.TokensTotal.WithLabelValues(string(rc.Provider), rec.EchoedModel, "input").Add(float64(rec.InputTokens))
			g.Metrics.TokensTotal.WithLabelValues(string(rc.Provider), rec.EchoedModel, "output").Add(float64(rec.OutputTokens))
			g.Metrics.CostTotalUSD.WithLabelValues(string(rc.Provider), rec.EchoedModel).Add(clampNonNegative(rec.CostUSD.InexactFloat64()))
		}
	}

	if g.Logs == nil {
		return
	}
	// Use a detached context with a short timeout: the inbound ctx may already
	// be cancelled (client disconnect), but the log row must still be enqueued.
	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := g.Logs.Enqueue(logCtx, rec); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "request log enqueue failed",
			slog.String("request_id", rec.ID), slog.String("error", err.Error()))
	}
}

func clampNonNegative(f float64) float64 {
	if f < 0 {
		return 0
	}
	return f
}

// classifyError maps a gateway sentinel error to its ErrorType tag.
func classifyError(err error) gateway.ErrorType {
	switch {
	case errors.Is(err, gateway.ErrValidation):
		return gateway.ErrorTypeValidation
	case errors.Is(err, gateway.ErrNoCredential):
		return gateway.ErrorTypeNoCred
	case errors.Is(err, gateway.ErrAuth):
		return gateway.ErrorTypeAuth
	case errors.Is(err, gateway.ErrRateLimit):
		return gateway.ErrorTypeRateLimit
	case errors.Is(err, gateway.ErrQuota):
		return gateway.ErrorTypeQuota
	case errors.Is(err, gateway.ErrTimeout):
		return gateway.ErrorTypeTimeout
	case errors.Is(err, gateway.ErrConnection):
		return gateway.ErrorTypeConnection
	case errors.Is(err, gateway.ErrNotFound):
		return gateway.ErrorTypeNotFound
	case errors.Is(err, gateway.ErrServer):
		return gateway.ErrorTypeServer
	case errors.Is(err, gateway.ErrParse):
		return gateway.ErrorTypeParse
	default:
		return gateway.ErrorTypeOther
	}
}

// statusForError maps a gateway sentinel error to the HTTP status the
// transport layer reports to the client.
func statusForError(err error) int {
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

// classifyUpstreamStatus maps a non-2xx upstream HTTP status (plus the raw
// body, reused as the message dispatch.Classify pattern-matches against) to
// a gateway sentinel error.
func classifyUpstreamStatus(status int, body string) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return gateway.ErrAuth
	case http.StatusTooManyRequests:
		return gateway.ErrRateLimit
	case http.StatusNotFound:
		return gateway.ErrNotFound
	}
	if status >= 500 {
		return gateway.ErrServer
	}
	return dispatch.Classify(fmt.Sprintf("%d %s", status, body)).Err()
}
