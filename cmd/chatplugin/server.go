package main

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/api/handlers"
	"github.com/eg9y/chat-api-plugins/internal/server"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func newServeCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the conversation API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, opts *cliOptions) error {
	cfg, err := loadConfig(opts, false)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger.Info("starting chatplugin server",
		zap.String("version", Version),
		zap.String("addr", cfg.Server.Addr),
		zap.String("model", cfg.LLM.Model),
	)
	mgr := server.NewManager(a.routes(ctx), server.ConfigFrom(cfg.Server), logger)
	return mgr.Run(ctx)
}

// pinger 由支持连通性检查的缓存后端实现（RedisStore）
type pinger interface {
	Ping(ctx context.Context) error
}

// routes 组装 HTTP 路由与中间件链。ctx 结束时限流器停止后台清理。
func (a *app) routes(ctx context.Context) http.Handler {
	maxBody := a.cfg.Server.MaxBodyBytes

	health := handlers.NewHealthHandler(a.logger)
	if p, ok := a.store.(pinger); ok {
		health.RegisterCheck(handlers.NewPingCheck("cache", p.Ping))
	}
	conversations := handlers.NewConversationHandler(func(baseURL string) (handlers.ConversationRunner, error) {
		conv, err := a.newConversation(baseURL)
		if err != nil {
			return nil, err
		}
		return conv, nil
	}, maxBody, a.logger)
	plugins := handlers.NewPluginHandler(a.fetcher, a.summarizer(), maxBody, a.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("POST /v1/conversations", conversations.HandleCreate)
	mux.HandleFunc("POST /v1/plugins/describe", plugins.HandleDescribe)

	middlewares := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		CORS(a.cfg.Server.CORSAllowedOrigins),
		OTelTracing(),
		RequestLogger(a.logger),
	}
	if rps := a.cfg.Server.RateLimitRPS; rps > 0 {
		middlewares = append(middlewares, RateLimiter(ctx, rps, a.cfg.Server.RateLimitBurst, a.logger))
	}
	// 最内层，才能读到 ServeMux 写入的 r.Pattern
	middlewares = append(middlewares, MetricsMiddleware(a.metrics))
	return Chain(mux, middlewares...)
}
