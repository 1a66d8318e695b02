// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 server 提供 HTTP 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
serve 子命令用它承载会话 API、健康检查与 /metrics。

# 核心类型

  - Manager：持有 http.Server、net.Listener 与异步错误通道，
    提供 Start/Run/Shutdown 等生命周期方法。
  - Config：监听地址、读写超时、空闲超时、最大请求头大小与
    优雅关闭超时。ConfigFrom 从 config.ServerConfig 构造。

# 主要能力

  - 非阻塞启动：Start 在后台 goroutine 中运行服务。
  - 阻塞运行：Run 在 ctx 结束或服务异常时触发优雅关闭。
  - 错误传播：Errors() 返回异步错误通道。
*/
package server
