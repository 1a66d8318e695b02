// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
# 概述

包 apicall 把 LLM 的回复解析为可执行的请求描述符（Descriptor），
并将其发送到目标 API。

# 回复格式

  - structured: 整个回复（可带一层 markdown 代码块）必须是一个 JSON 对象，
    键为 http_method/method、path、可选的 params 与 data
  - freeform: 第一行为 "<VERB> /path"，随后文本中第一个 { 到最后一个 }
    之间的 JSON 对象作为参数

每个会话只选择一种格式，不做"先结构化再回退"的推断。

# 参数放置

Invoker 支持三种策略：declared（按 OpenAPI 声明的 in 放置，默认）、
method（按 HTTP 方法决定查询串或请求体）、minimal（有 data 发请求体，
否则 params 作为查询串）。
*/
package apicall
