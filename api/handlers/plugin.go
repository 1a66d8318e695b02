package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/agent/conversation"
	"github.com/eg9y/chat-api-plugins/api"
	"github.com/eg9y/chat-api-plugins/tools/openapi"
)

// PluginHandler 插件摘要处理器
type PluginHandler struct {
	fetcher      conversation.BundleFetcher
	summarizer   *openapi.Summarizer
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewPluginHandler 创建插件摘要处理器；summarizer 为 nil 时使用默认配置
func NewPluginHandler(fetcher conversation.BundleFetcher, summarizer *openapi.Summarizer, maxBodyBytes int64, logger *zap.Logger) *PluginHandler {
	if summarizer == nil {
		summarizer = openapi.NewSummarizer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PluginHandler{
		fetcher:      fetcher,
		summarizer:   summarizer,
		maxBodyBytes: maxBodyBytes,
		logger:       logger.With(zap.String("handler", "plugin")),
	}
}

// HandleDescribe 处理 POST /v1/plugins/describe
func (h *PluginHandler) HandleDescribe(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.DescribeRequest
	if err := DecodeJSONBody(w, r, &req, h.maxBodyBytes, h.logger); err != nil {
		return
	}

	bundle, err := h.fetcher.Fetch(r.Context(), req.PluginURL)
	if err != nil {
		WriteError(w, r, err, nil, h.logger)
		return
	}
	WriteSuccess(w, r, api.DescribeResponse{
		Name:        bundle.Manifest.NameForModel,
		Description: bundle.Manifest.DescriptionForModel,
		OpenAPIURL:  bundle.APIURL,
		Summary:     h.summarizer.Summarize(bundle.Document),
		Endpoints:   h.summarizer.Describe(bundle.Document),
	})
}
