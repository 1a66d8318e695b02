package llm

import (
	"context"
	"time"
)

// 统一的 LLM 错误码，用于对齐 HTTP 状态与可重试性。
type ErrorCode string

const (
	ErrInvalidRequest  ErrorCode = "LLM_INVALID_REQUEST"  // 参数/格式错误
	ErrUnauthorized    ErrorCode = "LLM_UNAUTHORIZED"     // 未授权或密钥失效
	ErrForbidden       ErrorCode = "LLM_FORBIDDEN"        // 权限或内容策略拒绝
	ErrRateLimited     ErrorCode = "LLM_RATE_LIMITED"     // 上游限流
	ErrQuotaExceeded   ErrorCode = "LLM_QUOTA_EXCEEDED"   // 额度/配额用尽
	ErrModelOverloaded ErrorCode = "LLM_MODEL_OVERLOADED" // 模型过载
	ErrUpstreamError   ErrorCode = "LLM_UPSTREAM_ERROR"   // 上游 5xx/网络错误
	ErrEmptyResponse   ErrorCode = "LLM_EMPTY_RESPONSE"   // 响应没有任何 choice
)

type Error struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	HTTPStatus int       `json:"http_status"`
	Retryable  bool      `json:"retryable"`
	Provider   string    `json:"provider,omitempty"`
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// SystemMessage, UserMessage and AssistantMessage build single-content messages.
func SystemMessage(content string) Message { return Message{Role: RoleSystem, Content: content} }

func UserMessage(content string) Message { return Message{Role: RoleUser, Content: content} }

func AssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

type ChatRequest struct {
	TraceID     string            `json:"trace_id,omitempty"`
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	MaxTokens   int               `json:"max_tokens,omitempty"`
	Temperature float32           `json:"temperature,omitempty"`
	TopP        float32           `json:"top_p,omitempty"`
	Stop        []string          `json:"stop,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason,omitempty"`
	Message      Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Provider 定义了统一的 LLM 适配接口。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
