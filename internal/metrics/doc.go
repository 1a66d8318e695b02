// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的会话级指标采集能力，覆盖
会话结果、LLM 调用、目标 API 调用、Schema 解析与插件缓存五个维度。

# 概述

Collector 通过 promauto 注册到默认 Registry，所有指标按 namespace 隔离。
命令行场景下进程只运行一次会话，可用 WriteTextfile 把当前指标写成
node_exporter textfile 格式，供外部采集。

# 主要能力

  - 会话指标：conversations_total{outcome}、conversation_duration_seconds。
  - LLM 指标：llm_requests_total{provider,model,status}、
    llm_request_duration_seconds、llm_tokens_total{provider,model,type}。
  - API 调用指标：api_invocations_total{method,status}、
    api_invocation_duration_seconds{method}。
  - 解析指标：schema_resolution_errors_total{code}，
    统计摘要阶段被吸收的 $ref 解析错误。
  - 缓存指标：bundle_cache_total{result}，result 为 hit/miss/error。
*/
package metrics
