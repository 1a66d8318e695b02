// Package config 提供 chatplugin 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量 的顺序叠加，
// 环境变量前缀默认为 CHATPLUGIN，例如 CHATPLUGIN_LLM_API_KEY。
package config
