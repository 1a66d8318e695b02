// =============================================================================
// chatplugin 主入口
// =============================================================================
// 对一个 ChatGPT 风格插件执行单轮会话
//
// 使用方法:
//
//	chatplugin chat --plugin https://example.com "translate 'hello' to french"
//	chatplugin chat --config chatplugin.yaml "..."   # 指定配置文件
//	chatplugin describe --plugin https://example.com  # 打印接口摘要
//	chatplugin serve --addr :8080                      # 以 HTTP API 提供会话
//	chatplugin version                                 # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eg9y/chat-api-plugins/config"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// cliOptions 是命令行覆盖项，非空时覆盖配置文件和环境变量
type cliOptions struct {
	configPath  string
	envFile     string
	pluginURL   string
	baseURL     string
	replyFormat string
	model       string
	verbose     bool
	jsonOutput  bool
	addr        string
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "chatplugin",
		Short:         "chatplugin - drive an OpenAPI plugin through an LLM",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file (YAML)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "Dotenv file loaded before config (default: nearest .env)")
	root.PersistentFlags().StringVar(&opts.pluginURL, "plugin", "", "Plugin root URL (overrides plugin.url)")

	chatCmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Run one conversation against the plugin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd.Context(), out, opts, strings.Join(args, " "))
		},
	}
	chatCmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Target API base URL (overrides document servers)")
	chatCmd.Flags().StringVar(&opts.replyFormat, "reply-format", "", "LLM reply format: freeform | structured")
	chatCmd.Flags().StringVar(&opts.model, "model", "", "LLM model")
	chatCmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Print the selected call and the message history")
	chatCmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print the full result as JSON")

	describeCmd := &cobra.Command{
		Use:   "describe",
		Short: "Fetch the plugin and print the endpoint summary shown to the LLM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDescribe(cmd.Context(), out, opts)
		},
	}
	describeCmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Print structured endpoint descriptions as JSON")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(out, "chatplugin %s\n", Version)
			fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
		},
	}

	root.AddCommand(chatCmd, describeCmd, newServeCmd(opts), versionCmd)
	return root
}

// loadConfig 加载配置并应用命令行覆盖项；requirePlugin 为 false 时允许缺省插件 URL（serve 按请求指定）
func loadConfig(opts *cliOptions, requirePlugin bool) (*config.Config, error) {
	if _, err := loadDotEnv(opts.envFile); err != nil {
		return nil, err
	}
	loader := config.NewLoader()
	if opts.configPath != "" {
		loader = loader.WithConfigPath(opts.configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	if opts.pluginURL != "" {
		cfg.Plugin.URL = opts.pluginURL
	}
	if opts.baseURL != "" {
		cfg.Plugin.BaseURL = opts.baseURL
	}
	if opts.replyFormat != "" {
		cfg.Conversation.ReplyFormat = opts.replyFormat
	}
	if opts.model != "" {
		cfg.LLM.Model = opts.model
	}
	if opts.addr != "" {
		cfg.Server.Addr = opts.addr
	}
	if requirePlugin && cfg.Plugin.URL == "" {
		return nil, fmt.Errorf("plugin URL is required (--plugin or plugin.url)")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(ctx context.Context, out io.Writer, opts *cliOptions, message string) error {
	cfg, err := loadConfig(opts, true)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	conv, err := a.newConversation("")
	if err != nil {
		return err
	}

	logger.Info("starting conversation",
		zap.String("version", Version),
		zap.String("plugin_url", cfg.Plugin.URL),
		zap.String("model", cfg.LLM.Model),
	)
	res, runErr := conv.Run(ctx, cfg.Plugin.URL, message)
	a.flushMetrics()

	if opts.jsonOutput && res != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		return runErr
	}
	if opts.verbose && res != nil {
		if res.Descriptor != nil {
			fmt.Fprintf(out, "%s %s%s\n", callLabel.Sprint("call:"), res.BaseURL, res.Descriptor.Path)
			fmt.Fprintf(out, "descriptor: %s\n", res.Descriptor)
		}
		for _, m := range res.History {
			fmt.Fprintf(out, "%s %s\n", roleLabel(string(m.Role)), m.Content)
		}
		fmt.Fprintln(out)
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintln(out, res.Answer)
	return nil
}

// 终端非 TTY 或设置 NO_COLOR 时 color 自动输出纯文本
var (
	callLabel = color.New(color.FgGreen, color.Bold)
	roleColor = map[string]*color.Color{
		"system":    color.New(color.FgHiBlack),
		"user":      color.New(color.FgCyan),
		"assistant": color.New(color.FgYellow),
	}
)

func roleLabel(role string) string {
	label := "[" + role + "]"
	if c, ok := roleColor[role]; ok {
		return c.Sprint(label)
	}
	return label
}

// =============================================================================
// 📋 describe 命令
// =============================================================================

func runDescribe(ctx context.Context, out io.Writer, opts *cliOptions) error {
	cfg, err := loadConfig(opts, true)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	bundle, err := a.fetcher.Fetch(ctx, cfg.Plugin.URL)
	if err != nil {
		return err
	}
	summarizer := a.summarizer()
	defer a.flushMetrics()

	if opts.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summarizer.Describe(bundle.Document))
	}
	fmt.Fprintf(out, "%s (%s)\n%s\n\n", bundle.Manifest.NameForHuman, bundle.Manifest.NameForModel, bundle.Manifest.DescriptionForModel)
	fmt.Fprint(out, summarizer.Summarize(bundle.Document))
	return nil
}
