// Package chatplugins provides a top-level convenience entry point for running
// plugin conversations with minimal boilerplate.
//
// Usage:
//
//	import chatplugins "github.com/eg9y/chat-api-plugins"
//
//	c, err := chatplugins.New(chatplugins.WithOpenAI("gpt-4"))
//	res, err := c.Chat(ctx, "https://plugin.example.com", "translate 'hello' to french")
//
//	c, err := chatplugins.New(chatplugins.WithProvider(myProvider), chatplugins.WithReplyFormat(apicall.FormatStructured))
//
// Each Chat call runs one conversation. Fetched plugin bundles are cached
// in memory and shared across calls of the same Client.
package chatplugins

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/agent/conversation"
	"github.com/eg9y/chat-api-plugins/internal/cache"
	"github.com/eg9y/chat-api-plugins/llm"
	"github.com/eg9y/chat-api-plugins/llm/providers/openaicompat"
	"github.com/eg9y/chat-api-plugins/llm/retry"
	"github.com/eg9y/chat-api-plugins/tools/apicall"
	"github.com/eg9y/chat-api-plugins/tools/plugin"
)

// Option configures the client created by New.
type Option func(*options)

type options struct {
	conv     conversation.Config
	provider llm.Provider
	logger   *zap.Logger
	cacheTTL time.Duration

	// Provider shortcut fields, used when provider is nil.
	providerName string
	llmBaseURL   string
	apiKey       string
	maxRetries   int
}

// WithProvider sets a pre-built LLM provider.
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// WithOpenAI uses the OpenAI chat completions API with the given model.
// API key is read from OPENAI_API_KEY environment variable.
func WithOpenAI(model string) Option {
	return func(o *options) {
		o.providerName = "openai"
		o.llmBaseURL = "https://api.openai.com"
		o.conv.Model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("OPENAI_API_KEY")
		}
	}
}

// WithDeepSeek uses DeepSeek's OpenAI-compatible API with the given model.
// API key is read from DEEPSEEK_API_KEY environment variable.
func WithDeepSeek(model string) Option {
	return func(o *options) {
		o.providerName = "deepseek"
		o.llmBaseURL = "https://api.deepseek.com"
		o.conv.Model = model
		if o.apiKey == "" {
			o.apiKey = os.Getenv("DEEPSEEK_API_KEY")
		}
	}
}

// WithLLMBaseURL points the provider shortcut at another OpenAI-compatible endpoint.
func WithLLMBaseURL(baseURL string) Option {
	return func(o *options) { o.llmBaseURL = baseURL }
}

// WithAPIKey overrides the API key for provider shortcuts.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithMaxRetries sets how often retryable LLM errors are retried. Default 2.
func WithMaxRetries(n int) Option {
	return func(o *options) { o.maxRetries = n }
}

// WithModel sets the model name. Overrides the model set by provider shortcuts.
func WithModel(model string) Option {
	return func(o *options) { o.conv.Model = model }
}

// WithReplyFormat selects how the LLM is asked to name its API call.
func WithReplyFormat(f apicall.ReplyFormat) Option {
	return func(o *options) { o.conv.ReplyFormat = f }
}

// WithFailurePolicy selects what a failed API call does to the conversation.
func WithFailurePolicy(p conversation.FailurePolicy) Option {
	return func(o *options) { o.conv.FailurePolicy = p }
}

// WithTargetBaseURL overrides the base URL of the plugin's API.
func WithTargetBaseURL(baseURL string) Option {
	return func(o *options) { o.conv.BaseURL = baseURL }
}

// WithCacheTTL sets how long fetched plugin bundles are reused. Zero disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) { o.cacheTTL = ttl }
}

// WithLogger sets a custom zap logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Client runs plugin conversations.
type Client struct {
	conv     conversation.Config
	fetcher  *plugin.Fetcher
	provider llm.Provider
	invoker  *apicall.Invoker
	logger   *zap.Logger
}

// New creates a Client with minimal configuration. A provider must be
// specified via WithOpenAI, WithDeepSeek or WithProvider.
func New(opts ...Option) (*Client, error) {
	o := &options{
		cacheTTL:   10 * time.Minute,
		maxRetries: 2,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	p := o.provider
	if p == nil {
		if o.providerName == "" {
			return nil, fmt.Errorf("provider is required: use WithProvider, WithOpenAI, or WithDeepSeek")
		}
		if o.apiKey == "" {
			return nil, fmt.Errorf("API key is required for %s: set the environment variable or use WithAPIKey", o.providerName)
		}
		p = openaicompat.New(openaicompat.Config{
			ProviderName: o.providerName,
			APIKey:       o.apiKey,
			BaseURL:      o.llmBaseURL,
			DefaultModel: o.conv.Model,
		}, o.logger)
	}
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = o.maxRetries

	return &Client{
		conv: o.conv,
		fetcher: plugin.NewFetcher(plugin.FetcherConfig{
			Cache: cache.NewMemoryStore(o.cacheTTL),
			TTL:   o.cacheTTL,
		}, o.logger),
		provider: retry.WrapProvider(p, policy, o.logger),
		invoker:  apicall.NewInvoker(apicall.InvokerConfig{}, o.logger),
		logger:   o.logger,
	}, nil
}

// Chat runs one conversation for message against the plugin at pluginURL.
// The result is returned on failure too.
func (c *Client) Chat(ctx context.Context, pluginURL, message string) (*conversation.Result, error) {
	o, err := conversation.New(c.conv, conversation.Deps{
		Fetcher:  c.fetcher,
		Provider: c.provider,
		Invoker:  c.invoker,
		Logger:   c.logger,
	})
	if err != nil {
		return nil, err
	}
	return o.Run(ctx, pluginURL, message)
}
