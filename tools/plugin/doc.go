// Copyright 2024 AgentFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
# 概述

包 plugin 拉取插件清单（<插件 URL>/.well-known/ai-plugin.json）及其
api.url 指向的 OpenAPI 文档，组合为 Bundle 供会话使用。

# 缓存与并发

  - 结果按插件 URL 缓存在 internal/cache 的 Store 中（内存或 Redis），
    缓存内容为清单与文档原始字节，命中时重新解码以保留声明顺序
  - 同一插件 URL 的并发拉取通过 singleflight 合并为一次

所有失败均为 FETCH_ERROR（取消为 CANCELLED），不会返回部分结果。
*/
package plugin
