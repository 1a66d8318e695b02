package api

import (
	"github.com/eg9y/chat-api-plugins/agent/conversation"
	"github.com/eg9y/chat-api-plugins/tools/openapi"
)

// =============================================================================
// 💬 Conversation API
// =============================================================================

// ConversationRequest POST /v1/conversations 请求体
type ConversationRequest struct {
	// 插件主机 URL，清单从 <plugin_url>/.well-known/ai-plugin.json 获取
	PluginURL string `json:"plugin_url" validate:"required,url"`

	// 用户消息
	Message string `json:"message" validate:"required,max=8192"`

	// 可选：目标 API 基础 URL，覆盖文档 servers
	BaseURL string `json:"base_url,omitempty" validate:"omitempty,url"`
}

// ConversationResponse 一次会话的结果
type ConversationResponse = conversation.Result

// =============================================================================
// 📖 Plugin API
// =============================================================================

// DescribeRequest POST /v1/plugins/describe 请求体
type DescribeRequest struct {
	PluginURL string `json:"plugin_url" validate:"required,url"`
}

// DescribeResponse 插件摘要
type DescribeResponse struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OpenAPIURL  string `json:"openapi_url"`
	// Summary 是注入提示词的摘要文本
	Summary   string                        `json:"summary"`
	Endpoints []openapi.EndpointDescription `json:"endpoints"`
}
