// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
# 概述

包 tlsutil 为插件清单拉取、OpenAPI 文档加载、API 调用以及 Redis 连接
提供统一的 TLS 加固配置（TLS 1.2+，仅 AEAD 密码套件）。

# 核心接口

  - DefaultTLSConfig: 返回加固后的 *tls.Config
  - SecureTransport: 按 TransportOptions 构建 *http.Transport
  - SecureHTTPClient: 带超时的加固 *http.Client
*/
package tlsutil
