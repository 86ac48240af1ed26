// =============================================================================
// Stepflow OpenAI-Compatible Provider
// =============================================================================
// Completion client for any endpoint speaking the OpenAI chat completions
// protocol (OpenAI, DeepSeek, Qwen, vLLM, Ollama, ...).
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/stepflow/llm"
	"github.com/BaSui01/stepflow/llm/retry"
	"github.com/BaSui01/stepflow/types"
	"go.uber.org/zap"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is the identifier reported by Name (e.g. "openai", "deepseek").
	ProviderName string

	// APIKey is sent as a Bearer token when non-empty.
	APIKey string

	// BaseURL is the API root, e.g. "https://api.openai.com".
	BaseURL string

	// DefaultModel is used when the request names no model.
	DefaultModel string

	// Timeout is the HTTP client timeout. Defaults to 60s if zero.
	Timeout time.Duration

	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string

	// MaxRetries 可重试错误（429、5xx、传输失败）的重试次数，0 表示不重试
	MaxRetries int

	// RetryDelay 首次重试前的等待，默认 500ms
	RetryDelay time.Duration
}

// Provider implements llm.Provider over HTTP.
type Provider struct {
	cfg     Config
	client  *http.Client
	retryer *retry.Retryer
	logger  *zap.Logger
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "provider"), zap.String("provider", cfg.ProviderName))

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	if cfg.RetryDelay > 0 {
		policy.InitialDelay = cfg.RetryDelay
	}
	return &Provider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		retryer: retry.New(policy, logger),
		logger:  logger,
	}
}

func (p *Provider) Name() string { return p.cfg.ProviderName }

func (p *Provider) endpoint() string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + p.cfg.EndpointPath
}

// Completion sends one chat completion request.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	body := chatRequest{
		Model:       model,
		Messages:    toWireMessages(req.Messages),
		Tools:       toWireTools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.ToolChoice != "" && len(body.Tools) > 0 {
		body.ToolChoice = req.ToolChoice
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	return retry.Do(ctx, p.retryer, func(ctx context.Context) (*llm.ChatResponse, error) {
		return p.send(ctx, payload, req.TraceID)
	})
}

// send 发送一次请求，不做重试
func (p *Provider) send(ctx context.Context, payload []byte, traceID string) (*llm.ChatResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	if traceID != "" {
		httpReq.Header.Set("X-Request-ID", traceID)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrContextCancelled, p.Name()+" request cancelled").WithCause(err)
		}
		return nil, types.NewError(types.ErrUpstreamError, p.Name()+" request failed").
			WithCause(err).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}

	var wire chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode "+p.Name()+" response").
			WithCause(err).WithRetryable(true)
	}

	out, err := fromWireResponse(wire, p.Name())
	if err != nil {
		return nil, err
	}
	p.logger.Debug("completion finished",
		zap.String("model", out.Model),
		zap.Int("choices", len(out.Choices)),
		zap.Int("total_tokens", out.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))
	return out, nil
}

// mapHTTPError 将 HTTP 状态码映射为带重试标记的 types.Error
func mapHTTPError(status int, msg, provider string) *types.Error {
	text := fmt.Sprintf("%s returned %d: %s", provider, status, msg)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return types.NewError(types.ErrInvalidRequest, text)
	case status == http.StatusTooManyRequests || status >= 500:
		return types.NewError(types.ErrUpstreamError, text).WithRetryable(true)
	default:
		return types.NewError(types.ErrInvalidRequest, text)
	}
}

// readErrorMessage 读取响应体中的错误消息，解析失败回退到原始文本
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		if errResp.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
		}
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
