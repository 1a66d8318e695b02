// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 chatplugin 命令行程序入口。

# 概述

cmd/chatplugin 把插件拉取、接口摘要、LLM 对话和 API 调用串成一次完整的
会话。程序从 YAML 配置文件和 CHATPLUGIN_ 前缀的环境变量加载配置，
使用 zap 输出结构化日志，可选地通过 OTLP 导出链路追踪，并在会话
结束后把 Prometheus 指标写入 textfile。

# 子命令

  - chat      - 对插件执行一次会话并打印最终回答
  - describe  - 拉取插件并打印提示词使用的接口摘要
  - version   - 打印版本信息

# 构建注入

Version、BuildTime、GitCommit 通过 ldflags 设置。
*/
package main
