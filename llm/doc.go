// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义会话编排使用的大语言模型调用契约。

# 概述

本包屏蔽不同模型服务商在接口、鉴权与错误语义上的差异，
对上层暴露一致的请求与响应模型。会话编排只依赖 [Provider]，
具体实现位于 providers 子包。

# 核心接口

  - [Provider]：LLM 提供者接口，提供 Completion / Name

# 核心类型

  - [ChatRequest] / [ChatResponse]：同步补全的请求与响应
  - [Message] / [Role]：对话消息与角色
  - [Error] / [ErrorCode]：按 HTTP 状态映射的统一错误，携带可重试标记

# 子包

  - providers：通用错误映射与 OpenAI 兼容格式转换
  - providers/openaicompat：OpenAI Chat Completions 兼容客户端
  - retry：基于指数退避的 Provider 重试包装
  - tokenizer：提示词 Token 计数
*/
package llm
