// Copyright 2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

包 providers 提供 OpenAI 兼容服务商的公共适配层：请求/响应转换与错误映射。
具体客户端位于 openaicompat 子包。

# 核心类型

  - OpenAICompat* 系列 - OpenAI 兼容 API 的通用请求/响应结构体

# 核心函数

  - MapHTTPError - 将 HTTP 状态码映射为语义化的 llm.Error（含 Retryable 标记）
  - ReadErrorMessage - 从错误响应体中提取可读消息
  - ConvertMessagesToOpenAI / ToLLMChatResponse - 消息与响应格式转换
  - ChooseModel - 按优先级选择模型（请求 > 默认 > 兜底）
*/
package providers
