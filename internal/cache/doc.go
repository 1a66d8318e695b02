// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 cache 为已拉取的插件清单与 OpenAPI 文档提供带 TTL 的字节缓存，
支持进程内内存与 Redis 两种后端。

# 核心类型

  - Store：统一的 Get/Set/Delete/Close 接口，未命中返回 ErrCacheMiss。
  - MemoryStore：进程内实现，按条目记录过期时间，读取时惰性淘汰。
  - RedisStore：基于 go-redis 的实现，键统一加前缀，可选 TLS。
  - Config：后端选择、Redis 地址/密码/库号、连接池与默认 TTL。

New 按 Config.Backend 构造对应后端；Redis 后端在构造时 Ping 一次，
连接失败直接返回错误。
*/
package cache
