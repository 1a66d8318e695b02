// =============================================================================
// 📦 chatplugin 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Plugin:       DefaultPluginConfig(),
		LLM:          DefaultLLMConfig(),
		Conversation: DefaultConversationConfig(),
		Invoker:      DefaultInvokerConfig(),
		Cache:        DefaultCacheConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
		Metrics:      DefaultMetricsConfig(),
		Server:       DefaultServerConfig(),
	}
}

// DefaultPluginConfig 返回默认插件配置
func DefaultPluginConfig() PluginConfig {
	return PluginConfig{
		FetchTimeout: 30 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "openai",
		BaseURL:     "https://api.openai.com",
		Model:       "gpt-4",
		MaxTokens:   150,
		Temperature: 1,
		Timeout:     2 * time.Minute,
		MaxRetries:  2,
	}
}

// DefaultConversationConfig 返回默认会话配置
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		PromptSource:      "summary",
		ReplyFormat:       "freeform",
		ResponseField:     "explanation",
		FailurePolicy:     "report",
		MaxReferenceDepth: 16,
	}
}

// DefaultInvokerConfig 返回默认调用配置
func DefaultInvokerConfig() InvokerConfig {
	return InvokerConfig{
		Timeout:        30 * time.Second,
		Placement:      "declared",
		RateLimitBurst: 1,
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Backend:    "memory",
		TTL:        10 * time.Minute,
		Addr:       "localhost:6379",
		KeyPrefix:  "chatplugin:",
		PoolSize:   10,
		MaxEntries: 128,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "chatplugin",
		SampleRate:   1.0,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "chatplugin",
	}
}

// DefaultServerConfig 返回默认 HTTP 服务配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxBodyBytes:    1 << 20,
	}
}
