package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/agent/conversation"
	"github.com/eg9y/chat-api-plugins/api"
)

// =============================================================================
// 💬 会话 Handler
// =============================================================================

// ConversationRunner 执行一次会话。*conversation.Orchestrator 实现该接口。
type ConversationRunner interface {
	Run(ctx context.Context, pluginURL, message string) (*conversation.Result, error)
}

// ConversationFactory 为每个请求创建新会话，baseURL 为空时沿用配置
type ConversationFactory func(baseURL string) (ConversationRunner, error)

// ConversationHandler 会话处理器
type ConversationHandler struct {
	newConversation ConversationFactory
	maxBodyBytes    int64
	logger          *zap.Logger
}

// NewConversationHandler 创建会话处理器
func NewConversationHandler(factory ConversationFactory, maxBodyBytes int64, logger *zap.Logger) *ConversationHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConversationHandler{
		newConversation: factory,
		maxBodyBytes:    maxBodyBytes,
		logger:          logger.With(zap.String("handler", "conversation")),
	}
}

// HandleCreate 处理 POST /v1/conversations
//
// 会话失败时返回错误信封，data 中仍带有失败会话的结果（状态、历史、迁移记录）。
func (h *ConversationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var req api.ConversationRequest
	if err := DecodeJSONBody(w, r, &req, h.maxBodyBytes, h.logger); err != nil {
		return
	}

	conv, err := h.newConversation(req.BaseURL)
	if err != nil {
		WriteError(w, r, err, nil, h.logger)
		return
	}

	res, err := conv.Run(r.Context(), req.PluginURL, req.Message)
	if err != nil {
		WriteError(w, r, err, res, h.logger)
		return
	}
	WriteSuccess(w, r, res)
}
