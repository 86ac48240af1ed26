// =============================================================================
// Stepflow 主入口
// =============================================================================
// 工作流运行与会话查询命令行
//
// 使用方法:
//
//	stepflow run review.yaml                     # 运行工作流
//	stepflow run --resume <id> review.yaml       # 从已有会话继续
//	stepflow validate review.yaml                # 校验工作流文件
//	stepflow sessions list --status failed       # 列出会话
//	stepflow sessions show <id>                  # 查看会话详情
//	stepflow replay --step summary <id>          # 回放历史状态
//	stepflow version                             # 显示版本信息
// =============================================================================

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/stepflow/config"
	"github.com/BaSui01/stepflow/workflow/state"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, args []string, out io.Writer) error {
	switch args[0] {
	case "run":
		return runWorkflow(ctx, args[1:], out)
	case "validate":
		return runValidate(args[1:], out)
	case "sessions":
		return runSessions(ctx, args[1:], out)
	case "replay":
		return runReplay(ctx, args[1:], out)
	case "version":
		printVersion(out)
		return nil
	case "help", "-h", "--help":
		printUsage(out)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion(out io.Writer) {
	fmt.Fprintf(out, "Stepflow %s\n", Version)
	fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
	fmt.Fprintf(out, "  Git Commit: %s\n", GitCommit)
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, `Stepflow - durable workflow runner

Usage:
  stepflow <command> [options] [args]

Commands:
  run        Run a workflow file
  validate   Validate a workflow file
  sessions   List or show recorded sessions
  replay     Print a historical state of a session
  version    Show version information
  help       Show this help message

Options (all commands):
  --config <path>   Path to configuration file (YAML); STEPFLOW_* env vars override

Options for 'run':
  --input <json>         Initial workflow context as a JSON object
  --session-id <id>      Use this session id instead of a generated one
  --resume <id>          Skip steps already completed in session <id>
  --metrics-file <path>  Write Prometheus metrics to <path> after the run

Options for 'sessions list':
  --workflow <name>  --status <status>  --tag <tag> (repeatable)
  --since <time>  --until <time>  (RFC3339 or YYYY-MM-DD)
  --limit <n>  --json

Examples:
  stepflow run --input '{"pr": 42}' review.yaml
  stepflow sessions list --workflow review --limit 10
  stepflow sessions show 20260314_092653_001
  stepflow replay --step summary 20260314_092653_001
  stepflow validate review.yaml`)
}

// =============================================================================
// 🔧 公共初始化
// =============================================================================

// loadConfig 按 默认值 → 文件 → 环境变量 加载并校验配置
func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader().WithValidator((*config.Config).Validate)
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}

// storeConfig 将配置映射为状态存储阈值
func storeConfig(cfg config.StateConfig) state.StoreConfig {
	return state.StoreConfig{
		SnapshotInterval:    cfg.SnapshotInterval,
		CompactionThreshold: cfg.CompactionThreshold,
	}
}

// parseLevel 解析日志级别，未知值回退到 info
func parseLevel(s string) zapcore.Level {
	switch s {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// initLogger 根据日志配置构建 logger，返回的 AtomicLevel 支持热更新级别
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	// 配置编码器
	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		// 回退到基本 logger
		logger, _ = zap.NewProduction()
	}
	return logger, level
}
