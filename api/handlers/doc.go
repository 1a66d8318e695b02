// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 chatplugin HTTP API 的请求处理器实现。

# 概述

handlers 包实现 serve 子命令暴露的全部端点：执行插件会话、
插件接口摘要、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - ConversationHandler - POST /v1/conversations，每个请求创建一次新会话
  - PluginHandler       - POST /v1/plugins/describe，获取插件并生成端点摘要
  - HealthHandler       - /healthz、/readyz 与 /version
  - Response            - 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo           - 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter      - 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck         - 可插拔健康检查接口（PingCheck 用于 Redis 缓存）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON
  - 请求验证：DecodeJSONBody（大小限制 + 严格模式 + validator 标签校验）、ValidateContentType
  - 错误码 → HTTP 状态码映射：请求错误 4xx，上游（插件、LLM、目标 API）错误 502
  - 失败的会话仍返回其结果，便于调用方查看历史与状态迁移
*/
package handlers
