// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 chat-api-plugins 的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 tools、agent、llm 等上层
模块提供统一的错误契约，以避免循环依赖。

# 核心类型

  - Error / ErrorCode - 结构化错误体系，含 HTTP 状态码、Retryable 标记与 Cause

# 错误分类

  - FETCH_ERROR                 - manifest 或 OpenAPI 文档不可达或无法解码
  - UNSUPPORTED_REFERENCE_SHAPE - $ref 不是 #/components/schemas/<name> 形式
  - UNKNOWN_SCHEMA              - $ref 指向不存在的 schema
  - REFERENCE_CYCLE             - $ref 链超过深度上限或出现环
  - MALFORMED_REPLY             - LLM 回复无法解析为请求描述
  - INVOCATION_ERROR            - 目标 API 调用失败（网络或非成功状态码）
  - CANCELLED                   - context 被取消
  - INVALID_CONFIG              - 配置或调用参数非法
  - INVALID_REQUEST             - HTTP 请求体不合法
  - LLM_ERROR                   - LLM 调用失败
*/
package types
