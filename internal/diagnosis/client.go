package diagnosis

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"equipment-diagnosis/internal/observability/metrics"
)

const (
	// DefaultBaseURL is the Solar chat-completion API root.
	DefaultBaseURL = "https://api.upstage.ai/v1/solar"
	// DefaultModel is the Solar chat model used for diagnosis.
	DefaultModel = "solar-1-mini-chat"

	temperature = 0.1

	missingKeyError   = "SOLAR_API_KEY not found"
	missingKeyMessage = "API Key missing. Cannot perform LLM analysis."
)

// Diagnoser produces a diagnosis for a reading. Implementations never fail;
// problems are reported inside the Result.
type Diagnoser interface {
	Diagnose(ctx context.Context, in Input) Result
}

// Client calls a hosted OpenAI-compatible chat-completion endpoint.
type Client struct {
	api     *openai.Client
	hasKey  bool
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

type clientOptions struct {
	baseURL    string
	model      string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// Option configures the client.
type Option func(*clientOptions)

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) Option {
	return func(o *clientOptions) {
		if baseURL != "" {
			o.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithModel overrides the chat model.
func WithModel(model string) Option {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithTimeout bounds each chat-completion call. Zero keeps the transport default.
func WithTimeout(timeout time.Duration) Option {
	return func(o *clientOptions) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) {
		if client != nil {
			o.httpClient = client
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewClient constructs a diagnosis client. An empty apiKey is allowed; every
// call then reports the missing key instead of reaching the network.
func NewClient(apiKey string, opts ...Option) *Client {
	o := clientOptions{
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = o.baseURL
	if o.httpClient != nil {
		cfg.HTTPClient = o.httpClient
	}

	return &Client{
		api:     openai.NewClientWithConfig(cfg),
		hasKey:  strings.TrimSpace(apiKey) != "",
		model:   o.model,
		timeout: o.timeout,
		logger:  o.logger,
	}
}

// Diagnose sends one chat-completion request for the reading.
func (c *Client) Diagnose(ctx context.Context, in Input) Result {
	if c == nil || c.api == nil || !c.hasKey {
		metrics.ObserveUpstream(metrics.UpstreamMissingKey, 0)
		return Result{Kind: KindUpstreamError, Error: missingKeyError, Message: missingKeyMessage}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(in)},
		},
		Temperature: temperature,
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		metrics.ObserveUpstream(metrics.UpstreamFailed, elapsed)
		c.logger.Warn("chat completion failed",
			zap.String("equipment_id", in.EquipmentID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return UpstreamError(describeError(err))
	}
	if len(resp.Choices) == 0 {
		metrics.ObserveUpstream(metrics.UpstreamFailed, elapsed)
		c.logger.Warn("chat completion returned no choices", zap.String("equipment_id", in.EquipmentID))
		return UpstreamError("chat completion returned no choices")
	}

	metrics.ObserveUpstream(metrics.UpstreamOK, elapsed)
	c.logger.Debug("chat completion received",
		zap.String("equipment_id", in.EquipmentID),
		zap.String("finish_reason", string(resp.Choices[0].FinishReason)),
		zap.Duration("elapsed", elapsed))
	return ParseContent(resp.Choices[0].Message.Content)
}

func describeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "chat completion timed out"
	}
	return err.Error()
}
