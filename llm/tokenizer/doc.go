// Package tokenizer 提供统一的 Token 计数接口，
// 支持 tiktoken 精确计数与面向提示词文本的估算器，用于估算会话提示词的 Token 数。
// tiktoken 编码数据不可用时（例如离线环境）自动回退到估算器。
package tokenizer
