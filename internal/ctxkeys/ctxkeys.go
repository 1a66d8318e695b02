package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	requestIDKey      contextKey = "request_id"
	conversationIDKey contextKey = "conversation_id"
)

// WithRequestID 设置 RequestID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID 获取 RequestID
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithConversationID 设置会话 ID
func WithConversationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, conversationIDKey, id)
}

// ConversationID 获取会话 ID
func ConversationID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(conversationIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
