// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 conversation 编排一次"插件对话"：LLM 根据 OpenAPI 接口摘要选择
一个 API 调用，编排器执行该调用，再把结果交回 LLM 生成最终答复。

# 概述

每个 Orchestrator 只服务一次对话，独占文档与消息历史，用完即弃。
状态严格按顺序推进：

	Fetching → Summarizing → AwaitingSelection → Invoking → AwaitingFinalAnswer → Done

任意阶段都可以进入终态 Failed，并携带失败错误码（FETCH_ERROR、
MALFORMED_REPLY、INVOCATION_ERROR、LLM_ERROR、CANCELLED）。

# 消息序列

  - system：插件身份与 description_for_model
  - system：回复约定与接口摘要（或原始 OpenAPI 文档）
  - user：用户消息
  - assistant：LLM 选择的 API 调用
  - user：Response=<两空格缩进的 JSON>
  - assistant：最终答复

# 调用失败策略

  - report（默认）：把 {"error", "status", "body"} 作为 Response= 消息
    交给 LLM，仍然生成最终答复，Result.InvocationError 记录失败
  - abort：直接以 Failed(INVOCATION_ERROR) 结束

每次对话恰好一次 API 调用与两次 LLM 调用，编排器本身不做重试。
取消通过 ctx 贯穿拉取、两次 LLM 调用与 API 调用，结果为 Failed(CANCELLED)。
*/
package conversation
