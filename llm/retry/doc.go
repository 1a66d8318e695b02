// Package retry 提供指数退避重试，以及对 llm.Provider 的重试包装。
// 只有标记为 Retryable 的 llm.Error 会触发重试。
package retry
