// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eg9y/chat-api-plugins/types"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "gpt-4", cfg.LLM.Model)
	assert.Equal(t, 150, cfg.LLM.MaxTokens)
	assert.Equal(t, 2, cfg.LLM.MaxRetries)
	assert.Equal(t, "summary", cfg.Conversation.PromptSource)
	assert.Equal(t, "freeform", cfg.Conversation.ReplyFormat)
	assert.Equal(t, "explanation", cfg.Conversation.ResponseField)
	assert.Equal(t, "report", cfg.Conversation.FailurePolicy)
	assert.Equal(t, 16, cfg.Conversation.MaxReferenceDepth)
	assert.Equal(t, "declared", cfg.Invoker.Placement)
	assert.Equal(t, "memory", cfg.Cache.Backend)
	assert.Equal(t, 128, cfg.Cache.MaxEntries)
	assert.Equal(t, []string{"stderr"}, cfg.Log.OutputPaths)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chatplugin.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
plugin:
  url: "https://plugin.example.com"
  fetch_timeout: 5s
llm:
  model: "gpt-4o-mini"
  max_tokens: 300
  temperature: 0.2
conversation:
  reply_format: structured
  failure_policy: abort
invoker:
  placement: minimal
  rate_limit_rps: 2.5
cache:
  backend: redis
  addr: "redis.example.com:6379"
  ttl: 1h
log:
  level: debug
  format: json
  output_paths: ["stdout"]
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "https://plugin.example.com", cfg.Plugin.URL)
	assert.Equal(t, 5*time.Second, cfg.Plugin.FetchTimeout)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, 300, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, "structured", cfg.Conversation.ReplyFormat)
	assert.Equal(t, "abort", cfg.Conversation.FailurePolicy)
	assert.Equal(t, "minimal", cfg.Invoker.Placement)
	assert.Equal(t, 2.5, cfg.Invoker.RateLimitRPS)
	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.Equal(t, []string{"stdout"}, cfg.Log.OutputPaths)

	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, "explanation", cfg.Conversation.ResponseField)
	assert.Equal(t, "chatplugin:", cfg.Cache.KeyPrefix)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", cfg.LLM.Model)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "llm: [unclosed")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("CHATPLUGIN_PLUGIN_URL", "https://env.example.com")
	t.Setenv("CHATPLUGIN_LLM_API_KEY", "sk-env")
	t.Setenv("CHATPLUGIN_LLM_MAX_TOKENS", "64")
	t.Setenv("CHATPLUGIN_LLM_TEMPERATURE", "0.5")
	t.Setenv("CHATPLUGIN_INVOKER_TIMEOUT", "3s")
	t.Setenv("CHATPLUGIN_CACHE_TLS", "true")
	t.Setenv("CHATPLUGIN_LOG_OUTPUT_PATHS", "stdout, /tmp/chatplugin.log")
	t.Setenv("CHATPLUGIN_SERVER_ADDR", "127.0.0.1:9090")
	t.Setenv("CHATPLUGIN_SERVER_MAX_BODY_BYTES", "4096")
	t.Setenv("CHATPLUGIN_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.com", cfg.Plugin.URL)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, 64, cfg.LLM.MaxTokens)
	assert.InDelta(t, 0.5, cfg.LLM.Temperature, 1e-6)
	assert.Equal(t, 3*time.Second, cfg.Invoker.Timeout)
	assert.True(t, cfg.Cache.TLS)
	assert.Equal(t, []string{"stdout", "/tmp/chatplugin.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, int64(4096), cfg.Server.MaxBodyBytes)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSAllowedOrigins)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
llm:
  model: yaml-model
  api_key: yaml-key
`)
	t.Setenv("CHATPLUGIN_LLM_API_KEY", "env-key")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "env-key", cfg.LLM.APIKey)
	assert.Equal(t, "yaml-model", cfg.LLM.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_LLM_MODEL", "custom-model")
	t.Setenv("CHATPLUGIN_LLM_MODEL", "ignored")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, "custom-model", cfg.LLM.Model)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("CHATPLUGIN_LLM_MAX_TOKENS", "lots")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHATPLUGIN_LLM_MAX_TOKENS")
}

func TestLoader_WithValidator(t *testing.T) {
	path := writeConfig(t, "conversation:\n  reply_format: xml\n")

	_, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversation.reply_format")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "case insensitive enum", mutate: func(c *Config) { c.Conversation.ReplyFormat = "Structured" }},
		{name: "prompt source", mutate: func(c *Config) { c.Conversation.PromptSource = "both" }, wantErr: "prompt_source"},
		{name: "failure policy", mutate: func(c *Config) { c.Conversation.FailurePolicy = "retry" }, wantErr: "failure_policy"},
		{name: "placement", mutate: func(c *Config) { c.Invoker.Placement = "body" }, wantErr: "invoker.placement"},
		{name: "cache backend", mutate: func(c *Config) { c.Cache.Backend = "memcached" }, wantErr: "cache.backend"},
		{name: "cache max entries", mutate: func(c *Config) { c.Cache.MaxEntries = -1 }, wantErr: "cache.max_entries"},
		{name: "response field", mutate: func(c *Config) { c.Conversation.ResponseField = "" }, wantErr: "response_field"},
		{name: "depth", mutate: func(c *Config) { c.Conversation.MaxReferenceDepth = 0 }, wantErr: "max_reference_depth"},
		{name: "max tokens", mutate: func(c *Config) { c.LLM.MaxTokens = -1 }, wantErr: "max_tokens"},
		{name: "temperature", mutate: func(c *Config) { c.LLM.Temperature = 3 }, wantErr: "temperature"},
		{name: "timeout", mutate: func(c *Config) { c.Invoker.Timeout = 0 }, wantErr: "timeouts"},
		{name: "server addr", mutate: func(c *Config) { c.Server.Addr = "" }, wantErr: "server.addr"},
		{name: "body limit", mutate: func(c *Config) { c.Server.MaxBodyBytes = 0 }, wantErr: "max_body_bytes"},
		{name: "server rate limit", mutate: func(c *Config) { c.Server.RateLimitBurst = -1 }, wantErr: "server rate limit"},
		{name: "sample rate", mutate: func(c *Config) { c.Telemetry.SampleRate = 2 }, wantErr: "sample_rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidConfig))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	path := writeConfig(t, "llm:\n  max_tokens: 0\n")
	assert.Panics(t, func() { MustLoad(path) })
}
