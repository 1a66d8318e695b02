// =============================================================================
// 📦 chatplugin 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("chatplugin.yaml").
//	    WithEnvPrefix("CHATPLUGIN").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eg9y/chat-api-plugins/types"
)

// DefaultEnvPrefix is the environment variable prefix used by NewLoader.
const DefaultEnvPrefix = "CHATPLUGIN"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 chatplugin 的完整配置结构
type Config struct {
	// Plugin 插件来源
	Plugin PluginConfig `yaml:"plugin" env:"PLUGIN"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Conversation 会话编排配置
	Conversation ConversationConfig `yaml:"conversation" env:"CONVERSATION"`

	// Invoker 目标 API 调用配置
	Invoker InvokerConfig `yaml:"invoker" env:"INVOKER"`

	// Cache 插件缓存配置
	Cache CacheConfig `yaml:"cache" env:"CACHE"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Server serve 子命令的 HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`
}

// PluginConfig 插件配置
type PluginConfig struct {
	// 插件根 URL，清单位于 <URL>/.well-known/ai-plugin.json
	URL string `yaml:"url" env:"URL"`
	// 目标 API 基础 URL，覆盖文档中的 servers
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 清单与文档拉取超时
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"FETCH_TIMEOUT"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// 提供商名称，仅用于日志与指标
	Provider string `yaml:"provider" env:"PROVIDER"`
	// OpenAI 兼容接口地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API 密钥
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 模型
	Model string `yaml:"model" env:"MODEL"`
	// 最大输出 token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 采样温度
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 可重试错误的最大重试次数，0 表示不重试
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
}

// ConversationConfig 会话配置
type ConversationConfig struct {
	// 提示词中的接口描述来源: summary | document
	PromptSource string `yaml:"prompt_source" env:"PROMPT_SOURCE"`
	// LLM 回复格式: freeform | structured
	ReplyFormat string `yaml:"reply_format" env:"REPLY_FORMAT"`
	// 响应摘要字段
	ResponseField string `yaml:"response_field" env:"RESPONSE_FIELD"`
	// 调用失败策略: report | abort
	FailurePolicy string `yaml:"failure_policy" env:"FAILURE_POLICY"`
	// $ref 最大解析深度
	MaxReferenceDepth int `yaml:"max_reference_depth" env:"MAX_REFERENCE_DEPTH"`
}

// InvokerConfig 目标 API 调用配置
type InvokerConfig struct {
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 参数放置策略: declared | method | minimal
	Placement string `yaml:"placement" env:"PLACEMENT"`
	// 每秒请求数上限，0 表示不限
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// CacheConfig 插件缓存配置
type CacheConfig struct {
	// memory | redis
	Backend string `yaml:"backend" env:"BACKEND"`
	// 缓存时长，0 表示不缓存
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// Redis 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// Redis 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// Redis 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 内存后端最多缓存的插件数
	MaxEntries int `yaml:"max_entries" env:"MAX_ENTRIES"`
	// 启用 TLS
	TLS bool `yaml:"tls" env:"TLS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 不使用 TLS 连接端点
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Prometheus 命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
	// 会话结束后写出的 textfile 路径，空表示不写
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// 监听地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时，需覆盖一次完整会话
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 请求体大小上限
	MaxBodyBytes int64 `yaml:"max_body_bytes" env:"MAX_BODY_BYTES"`
	// 按客户端 IP 限流，0 表示不限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的跨域来源，为空时不设置 CORS 头
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, types.NewError(types.ErrInvalidConfig, "failed to load config from file").WithCause(err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, types.NewError(types.ErrInvalidConfig, "failed to load config from env").WithCause(err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, types.NewError(types.ErrInvalidConfig, "config validation failed").WithCause(err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置，文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// =============================================================================
// 🔍 校验
// =============================================================================

var (
	promptSources  = []string{"summary", "document"}
	replyFormats   = []string{"freeform", "structured"}
	failurePolices = []string{"report", "abort"}
	placements     = []string{"declared", "method", "minimal"}
	cacheBackends  = []string{"memory", "redis"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"json", "console"}
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	oneOf := func(field, value string, allowed []string) {
		for _, a := range allowed {
			if strings.EqualFold(value, a) {
				return
			}
		}
		errs = append(errs, fmt.Sprintf("%s must be one of %s, got %q", field, strings.Join(allowed, "|"), value))
	}

	oneOf("conversation.prompt_source", c.Conversation.PromptSource, promptSources)
	oneOf("conversation.reply_format", c.Conversation.ReplyFormat, replyFormats)
	oneOf("conversation.failure_policy", c.Conversation.FailurePolicy, failurePolices)
	oneOf("invoker.placement", c.Invoker.Placement, placements)
	oneOf("cache.backend", c.Cache.Backend, cacheBackends)
	oneOf("log.level", c.Log.Level, logLevels)
	oneOf("log.format", c.Log.Format, logFormats)

	if c.Conversation.ResponseField == "" {
		errs = append(errs, "conversation.response_field must not be empty")
	}
	if c.Conversation.MaxReferenceDepth <= 0 {
		errs = append(errs, "conversation.max_reference_depth must be positive")
	}
	if c.LLM.Model == "" {
		errs = append(errs, "llm.model must not be empty")
	}
	if c.LLM.MaxTokens <= 0 {
		errs = append(errs, "llm.max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, "llm.temperature must be between 0 and 2")
	}
	if c.LLM.Timeout <= 0 || c.Plugin.FetchTimeout <= 0 || c.Invoker.Timeout <= 0 {
		errs = append(errs, "timeouts must be positive")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.max_retries must not be negative")
	}
	if c.Invoker.RateLimitRPS < 0 || c.Invoker.RateLimitBurst < 0 {
		errs = append(errs, "invoker rate limit must not be negative")
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, "cache.max_entries must not be negative")
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, "cache.ttl must not be negative")
	}
	if c.Server.Addr == "" {
		errs = append(errs, "server.addr must not be empty")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server.max_body_bytes must be positive")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "server rate limit must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return types.Errorf(types.ErrInvalidConfig, "config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).WithValidator((*Config).Validate).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
