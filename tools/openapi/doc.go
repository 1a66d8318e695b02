// Copyright 2025-2026 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package openapi 将 OpenAPI v3 文档转换为 LLM 可直接阅读的操作摘要。

该包解析 JSON / YAML 两种格式的 OpenAPI 文档（保留 paths、method 与
properties 的声明顺序），解析 $ref 引用，并为每个 Operation 生成
方法、路径、摘要、参数与响应描述组成的文本块。

# 核心接口/类型

  - Document - 解码后的 OpenAPI 文档（Info / Servers / Paths / Components）
  - Resolver - $ref 解析器，带显式深度上限（默认 16），环引用返回 REFERENCE_CYCLE
  - Summarizer - 操作摘要生成器，摘要字段（默认 explanation）可配置
  - EndpointDescription - 单个操作的摘要
  - Loader - 从 URL 或本地文件加载文档

# 主要能力

  - 顺序保持：自定义 UnmarshalYAML / UnmarshalJSON，输出稳定可复现
  - 引用解析：schemas / parameters / requestBodies / responses 四类组件
  - 容错摘要：解析失败的字段渲染为空字符串，绝不中断整体摘要
  - 路径匹配：FindOperation 支持 {param} 模板匹配
*/
package openapi
