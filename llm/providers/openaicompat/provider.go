// =============================================================================
// OpenAI-Compatible Chat Completions Client
// =============================================================================
// Works against OpenAI itself and any service exposing the same
// /v1/chat/completions contract.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/internal/tlsutil"
	"github.com/eg9y/chat-api-plugins/llm"
	"github.com/eg9y/chat-api-plugins/llm/providers"
)

// Config holds the configuration for an OpenAI-compatible provider.
type Config struct {
	// ProviderName is the identifier used in errors, logs and metrics.
	ProviderName string

	// APIKey is sent as a bearer token. Empty sends no Authorization header.
	APIKey string

	// BaseURL is the base URL for the provider's API (e.g., "https://api.openai.com").
	BaseURL string

	// DefaultModel is the model to use when none is specified in the request.
	DefaultModel string

	// FallbackModel is used when both request and DefaultModel are empty.
	FallbackModel string

	// Timeout is the HTTP client timeout. Defaults to 30s if zero.
	Timeout time.Duration

	// EndpointPath is the chat completions endpoint path. Defaults to "/v1/chat/completions".
	EndpointPath string

	// BuildHeaders is an optional function to set custom headers on each request.
	// If nil, providers.BearerTokenHeaders is used.
	BuildHeaders func(req *http.Request, apiKey string)

	// Client overrides the hardened default HTTP client.
	Client *http.Client
}

// Provider is an OpenAI-compatible llm.Provider.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if cfg.FallbackModel == "" {
		cfg.FallbackModel = "gpt-4"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := cfg.Client
	if client == nil {
		client = tlsutil.SecureHTTPClient(timeout)
	}
	return &Provider{
		Cfg:    cfg,
		Client: client,
		Logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

func (p *Provider) buildHeaders(req *http.Request, apiKey string) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, apiKey)
		return
	}
	providers.BearerTokenHeaders(req, apiKey)
}

// endpoint builds the full URL for a given path.
func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.Cfg.BaseURL, "/"), path)
}

// Completion performs a non-streaming chat completion.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	model := providers.ChooseModel(req, p.Cfg.DefaultModel, p.Cfg.FallbackModel)

	body := providers.OpenAICompatRequest{
		Model:       model,
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq, p.Cfg.APIKey)

	p.Logger.Debug("sending chat completion",
		zap.String("model", model),
		zap.Int("messages", len(req.Messages)),
		zap.Int("payload_bytes", len(payload)),
	)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, providers.UpstreamError(err, p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, providers.UpstreamError(err, p.Name())
	}

	result := providers.ToLLMChatResponse(oaResp, p.Name())
	if result.Model == "" {
		result.Model = model
	}
	if oaResp.Created != 0 {
		result.CreatedAt = time.Unix(oaResp.Created, 0)
	}
	return result, nil
}
