// Package gateway defines the domain types shared across the key-pool
// gateway. It has no project imports -- it is the dependency root.
package gateway

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Provider identifies an upstream LLM API flavor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// ResolveProvider maps a model name to its provider via a static table, as
// required by the gateway's validation step. It never consults the config
// snapshot -- allow-list membership is checked separately once a provider has
// been resolved.
func ResolveProvider(model string) (Provider, bool) {
	switch {
	case strings.HasPrefix(model, "claude-"):
		return ProviderAnthropic, true
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1-"),
		strings.HasPrefix(model, "o3-"),
		strings.HasPrefix(model, "o4-"),
		strings.HasPrefix(model, "text-"),
		strings.HasPrefix(model, "chatgpt-"):
		return ProviderOpenAI, true
	default:
		return "", false
	}
}

// --- Credential ---

// ObservedError is the last error code a credential was seen to produce
// upstream, recorded for operator triage.
type ObservedError string

const (
	ObservedNone              ObservedError = ""
	ObservedUnauthorized      ObservedError = "UNAUTHORIZED"
	ObservedRateLimit         ObservedError = "RATE_LIMIT"
	ObservedInsufficientQuota ObservedError = "INSUFFICIENT_QUOTA"
	ObservedTimeout           ObservedError = "TIMEOUT"
	ObservedCheckFailed       ObservedError = "CHECK_FAILED"
)

// Credential is a single upstream API key in the pool.
type Credential struct {
	ID                int64
	Label             string
	Secret            string // unique
	BoundUA           string // stored, never actually sent -- see dispatch package
	BoundProxy        string // optional; "" = no bound proxy
	Enabled           bool
	Balance           *decimal.Decimal // nil = unmetered
	TotalAuthorized   *decimal.Decimal // nil = unmetered
	BalanceLastUpdate *time.Time
	LastObservedError ObservedError
	Memo              string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// HasQuota reports whether the credential is eligible for the pool: enabled
// and either unmetered or still carrying a positive balance.
func (c *Credential) HasQuota() bool {
	return c.Enabled && (c.Balance == nil || c.Balance.IsPositive())
}

// --- Request log ---

type LogStatus string

const (
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
	LogStatusUnknown LogStatus = "unknown"
)

// RequestLog is a single append-only row describing one proxied request.
type RequestLog struct {
	ID                       string
	StartedAt                time.Time
	FinishedAt               time.Time
	KeyID                    int64 // 0 = client-supplied secret
	SecretUsed               string
	EgressProxyUsed          string
	RequestedModel           string
	EchoedModel              string
	Provider                 Provider
	PromptTokens             int
	CompletionTokens         int
	TotalTokens              int
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	CostUSD                  decimal.Decimal
	LatencyMs                int
	Status                   LogStatus
	HTTPStatus               int
	ErrorType                ErrorType
	ErrorMessage             string
	RequestBody              *string
	ResponseBody             *string
}

// LogFilter selects request log rows for querying and rollup scanning.
type LogFilter struct {
	StatDate  string // YYYY-MM-DD, required
	StatHour  *int   // nil = whole day
	KeyID     *int64
	Status    *LogStatus
	Limit     int
	Offset    int
}

// --- Rollup ---

type StatType string

const (
	StatGlobal   StatType = "global"
	StatProvider StatType = "provider"
	StatModel    StatType = "model"
	StatKey      StatType = "key"
)

// Rollup is one aggregated row: (stat_date, stat_hour, stat_type, provider,
// model, key_id) -> summary statistics.
type Rollup struct {
	StatDate         string
	StatHour         *int // nil = whole day
	StatType         StatType
	Provider         *string
	Model            *string
	KeyID            *int64
	Count            int64
	SuccessCount     int64
	ErrorCount       int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	InputTokens      int64
	OutputTokens     int64
	CostUSD          decimal.Decimal
	AvgLatencyMs     float64
	MaxLatencyMs     float64
	MinLatencyMs     float64
}

// --- Streaming accumulation ---

// Accumulator tracks usage and content across a single streamed response.
// output_tokens and Credits are overwritten by the latest snapshot seen on
// the wire, never added to; everything else is additive or first-write-wins.
type Accumulator struct {
	MessageID                string
	Model                    string
	InputTokens              int
	OutputTokens             int
	CacheCreationInputTokens int
	CacheReadInputTokens     int
	Credits                  decimal.Decimal
	Content                  strings.Builder
	StopReason               string
}

// --- Chat (OpenAI-compatible) wire types ---

type ChatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type ChatRequest struct {
	Model            string         `json:"model"`
	Messages         []ChatMessage  `json:"messages"`
	Stream           bool           `json:"stream,omitempty"`
	MaxTokens        *int           `json:"max_tokens,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
	TopP             *float64       `json:"top_p,omitempty"`
	N                *int           `json:"n,omitempty"`
	Stop             any            `json:"stop,omitempty"`
	PresencePenalty  *float64       `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64       `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]int `json:"logit_bias,omitempty"`
	User             string         `json:"user,omitempty"`
	APIKey           string         `json:"api_key,omitempty"`
	Proxy            string         `json:"proxy,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type Choice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// StreamChunk is a single unit sent from a dispatch-layer reader goroutine to
// the HTTP handler. Data is a raw wire-format payload (already encoded in the
// downstream protocol's shape); Err/Done signal terminal states.
type StreamChunk struct {
	Data  []byte
	Event string // Anthropic SSE event name; empty for OpenAI-shaped chunks
	Usage *Usage
	Done  bool
	Err   error
}

// --- Anthropic-native wire types ---

type AnthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type AnthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	MaxTokens     int                `json:"max_tokens"`
	System        any                `json:"system,omitempty"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	TopK          *int               `json:"top_k,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Metadata      any                `json:"metadata,omitempty"`
	APIKey        string             `json:"api_key,omitempty"`
	Proxy         string             `json:"proxy,omitempty"`
}

type AnthropicUsage struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens,omitempty"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens,omitempty"`
}

type AnthropicResponse struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      AnthropicUsage `json:"usage"`
}

type AnthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// --- Request context ---

// RequestContext carries per-request state between the HTTP handler and the
// key pool / dispatcher / bridge / log writer. It is not safe for concurrent
// use; exactly one goroutine owns it (plus, for streaming, the single reader
// goroutine the dispatcher spawns for that request).
type RequestContext struct {
	Provider        Provider
	Stream          bool
	Credential      *Credential // nil if client supplied its own secret
	ClientSecret    string      // set when the client supplied api_key directly
	FromPool        bool
	RequestedProxy  string // proxy requested by the client in the request body
	EgressProxy     string // proxy actually used (bound credential proxy, or RequestedProxy, or "")
	UpstreamURL     string
	UpstreamResp    *http.Response
	FirstError      string
	StartedAt       time.Time
	RequestedModel  string
	EchoedModel     string
	Acc             Accumulator
}

// Secret returns the credential/client secret this request should
// authenticate upstream with.
func (rc *RequestContext) Secret() string {
	if rc.Credential != nil {
		return rc.Credential.Secret
	}
	return rc.ClientSecret
}

// KeyID returns the log row's key_id convention: 0 for a client-supplied
// secret, otherwise the pool-selected credential's id.
func (rc *RequestContext) KeyID() int64 {
	if rc.Credential != nil {
		return rc.Credential.ID
	}
	return 0
}
