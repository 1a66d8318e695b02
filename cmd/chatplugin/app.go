package main

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/agent/conversation"
	"github.com/eg9y/chat-api-plugins/config"
	"github.com/eg9y/chat-api-plugins/internal/cache"
	"github.com/eg9y/chat-api-plugins/internal/metrics"
	"github.com/eg9y/chat-api-plugins/internal/telemetry"
	"github.com/eg9y/chat-api-plugins/llm"
	"github.com/eg9y/chat-api-plugins/llm/providers/openaicompat"
	"github.com/eg9y/chat-api-plugins/llm/retry"
	"github.com/eg9y/chat-api-plugins/llm/tokenizer"
	"github.com/eg9y/chat-api-plugins/tools/apicall"
	"github.com/eg9y/chat-api-plugins/tools/openapi"
	"github.com/eg9y/chat-api-plugins/tools/plugin"
	"github.com/eg9y/chat-api-plugins/types"
)

// collector 注册在默认 Prometheus registry 上，进程内只能创建一次
var (
	collectorOnce sync.Once
	collector     *metrics.Collector
)

func sharedCollector(namespace string, logger *zap.Logger) *metrics.Collector {
	collectorOnce.Do(func() {
		collector = metrics.NewCollector(namespace, logger)
	})
	return collector
}

// app 持有一次命令执行所需的全部组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	telemetry *telemetry.Providers
	metrics   *metrics.Collector
	store     cache.Store
	fetcher   *plugin.Fetcher
	provider  llm.Provider
	invoker   *apicall.Invoker
	tokenizer tokenizer.Tokenizer
}

func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	tp, err := telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		// 遥测不可用不影响会话
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		tp = &telemetry.Providers{}
	}
	a.telemetry = tp
	a.metrics = sharedCollector(cfg.Metrics.Namespace, logger)

	store, err := cache.New(cache.Config{
		Backend:    cfg.Cache.Backend,
		DefaultTTL: cfg.Cache.TTL,
		Addr:       cfg.Cache.Addr,
		Password:   cfg.Cache.Password,
		DB:         cfg.Cache.DB,
		KeyPrefix:  cfg.Cache.KeyPrefix,
		PoolSize:   cfg.Cache.PoolSize,
		MaxEntries: cfg.Cache.MaxEntries,
		TLS:        cfg.Cache.TLS,
	}, logger)
	if err != nil {
		_ = tp.Shutdown(context.Background())
		return nil, err
	}
	a.store = store

	a.fetcher = plugin.NewFetcher(plugin.FetcherConfig{
		Timeout:  cfg.Plugin.FetchTimeout,
		Cache:    store,
		TTL:      cfg.Cache.TTL,
		Recorder: a.metrics,
	}, logger)

	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = cfg.LLM.MaxRetries
	a.provider = retry.WrapProvider(openaicompat.New(openaicompat.Config{
		ProviderName: cfg.LLM.Provider,
		APIKey:       cfg.LLM.APIKey,
		BaseURL:      cfg.LLM.BaseURL,
		DefaultModel: cfg.LLM.Model,
		Timeout:      cfg.LLM.Timeout,
	}, logger), policy, logger)

	placement, err := apicall.ParsePlacement(cfg.Invoker.Placement)
	if err != nil {
		a.close()
		return nil, err
	}
	a.invoker = apicall.NewInvoker(apicall.InvokerConfig{
		Timeout:   cfg.Invoker.Timeout,
		Placement: placement,
		RateLimit: cfg.Invoker.RateLimitRPS,
		Burst:     cfg.Invoker.RateLimitBurst,
		Recorder:  a.metrics,
	}, logger)

	a.tokenizer = tokenizer.ForModel(cfg.LLM.Model)
	return a, nil
}

// newConversation 创建一次会话的编排器，baseURL 非空时覆盖配置中的目标地址
func (a *app) newConversation(baseURL string) (*conversation.Orchestrator, error) {
	convCfg, err := conversation.ConfigFrom(a.cfg)
	if err != nil {
		return nil, err
	}
	if baseURL != "" {
		convCfg.BaseURL = baseURL
	}
	return conversation.New(convCfg, conversation.Deps{
		Fetcher:   a.fetcher,
		Provider:  a.provider,
		Invoker:   a.invoker,
		Recorder:  a.metrics,
		Tokenizer: a.tokenizer,
		Tracer:    telemetry.Tracer(),
		Logger:    a.logger,
	})
}

// summarizer 按配置创建端点摘要器，解析失败计入指标
func (a *app) summarizer() *openapi.Summarizer {
	return openapi.NewSummarizer(
		openapi.WithResponseField(a.cfg.Conversation.ResponseField),
		openapi.WithMaxDepth(a.cfg.Conversation.MaxReferenceDepth),
		openapi.WithSummarizerLogger(a.logger),
		openapi.WithResolutionObserver(func(_, _, _ string, err error) {
			a.metrics.RecordResolutionError(string(types.GetErrorCode(err)))
		}),
	)
}

// flushMetrics 写出 textfile 指标，未配置路径时跳过
func (a *app) flushMetrics() {
	path := a.cfg.Metrics.TextfilePath
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		a.logger.Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.telemetry != nil {
		errs = append(errs, a.telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
