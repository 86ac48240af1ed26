package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/stepflow/config"
	"github.com/BaSui01/stepflow/internal/metrics"
	"github.com/BaSui01/stepflow/internal/telemetry"
	"github.com/BaSui01/stepflow/llm"
	"github.com/BaSui01/stepflow/llm/openaicompat"
	"github.com/BaSui01/stepflow/llm/tools"
	"github.com/BaSui01/stepflow/workflow"
	"github.com/BaSui01/stepflow/workflow/dsl"
	"github.com/BaSui01/stepflow/workflow/eventbus"
	"github.com/BaSui01/stepflow/workflow/state"
)

// =============================================================================
// 🚀 run 命令
// =============================================================================

const defaultOpenAIBaseURL = "https://api.openai.com"

type runOptions struct {
	configPath  string
	input       string
	sessionID   string
	resume      string
	metricsFile string
	file        string
}

func parseRunFlags(args []string) (*runOptions, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	opts := &runOptions{}
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.input, "input", "", "Initial workflow context (JSON object)")
	fs.StringVar(&opts.sessionID, "session-id", "", "Session id to use")
	fs.StringVar(&opts.resume, "resume", "", "Resume from session id")
	fs.StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics to file")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, fmt.Errorf("usage: stepflow run [options] <workflow.yaml>")
	}
	if opts.sessionID != "" && opts.resume != "" {
		return nil, fmt.Errorf("--session-id and --resume are mutually exclusive")
	}
	opts.file = fs.Arg(0)
	return opts, nil
}

// parseInput 解析 --input，空串为 nil
func parseInput(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var input map[string]any
	if err := json.Unmarshal([]byte(s), &input); err != nil {
		return nil, fmt.Errorf("invalid --input: %w", err)
	}
	return input, nil
}

func runWorkflow(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseRunFlags(args)
	if err != nil {
		return err
	}
	input, err := parseInput(opts.input)
	if err != nil {
		return err
	}

	cfg, loader, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	// 遥测
	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = providers.Shutdown(shutdownCtx)
		}()
	}

	// 指标
	var (
		registry  *prometheus.Registry
		collector *metrics.Collector
	)
	if cfg.Metrics.Enabled {
		registry = prometheus.NewRegistry()
		collector = metrics.NewCollectorWithRegisterer(cfg.Metrics.Namespace, registry, logger)
	}

	// 状态层
	repo, err := state.NewFileRepository(cfg.State.BaseDir, logger)
	if err != nil {
		return err
	}
	storeOpts := []state.StoreOption{state.WithStoreLogger(logger)}
	if collector != nil {
		storeOpts = append(storeOpts, state.WithRecorder(collector))
	}
	store := state.NewStore(repo, storeConfig(cfg.State), storeOpts...)
	manager := state.NewManager(store, eventbus.New(logger), logger)
	subID := manager.Bus().Subscribe(eventbus.EventStepUpdated, progressPrinter(os.Stderr))
	defer manager.Bus().Unsubscribe(subID)

	// 配置热更新
	if opts.configPath != "" {
		stopReload, err := startReloader(ctx, loader, cfg, opts.configPath, store, level, logger)
		if err != nil {
			logger.Warn("config hot reload disabled", zap.Error(err))
		} else {
			defer stopReload()
		}
	}

	// 工作流
	def, err := dsl.NewParser(nil).ParseFile(opts.file)
	if err != nil {
		return err
	}

	registryTools := tools.NewDefaultRegistry(logger)
	if err := registerBuiltinTools(registryTools); err != nil {
		return err
	}

	execOpts := []workflow.ExecutorOption{
		workflow.WithExecutorConfig(executorConfig(cfg)),
		workflow.WithExecutorLogger(logger),
	}
	engineOpts := []workflow.EngineOption{workflow.WithLogger(logger)}
	if collector != nil {
		execOpts = append(execOpts, workflow.WithExecutorMetrics(collector))
		engineOpts = append(engineOpts, workflow.WithMetrics(collector))
	}
	if opts.sessionID != "" {
		engineOpts = append(engineOpts, workflow.WithSessionID(opts.sessionID))
	}
	if opts.resume != "" {
		engineOpts = append(engineOpts, workflow.WithResume(opts.resume))
	}

	executor := workflow.NewStepExecutor(newProvider(cfg.LLM, logger), registryTools, execOpts...)
	engine, err := workflow.NewEngine(def, manager, executor, engineOpts...)
	if err != nil {
		return err
	}

	if cfg.Engine.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Engine.Timeout)
		defer cancel()
	}

	result, runErr := engine.Execute(ctx, input)
	if s := engine.Session(); s != nil {
		fmt.Fprintf(os.Stderr, "session: %s\n", s.ID())
	}

	if opts.metricsFile != "" && registry != nil {
		if err := prometheus.WriteToTextfile(opts.metricsFile, registry); err != nil {
			logger.Warn("write metrics file failed", zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	return writeJSON(out, result)
}

// executorConfig 将引擎配置映射为执行器配置
func executorConfig(cfg *config.Config) workflow.ExecutorConfig {
	return workflow.ExecutorConfig{
		Model:           cfg.LLM.DefaultModel,
		MaxToolRounds:   cfg.Engine.MaxToolRounds,
		DefaultMaxSteps: cfg.Engine.DefaultMaxSteps,
		DefaultFallback: workflow.FallbackPolicy(cfg.Engine.DefaultFallback),
		Temperature:     float32(cfg.Engine.Temperature),
		MaxTokens:       cfg.Engine.MaxTokens,
	}
}

// newProvider 仅在配置了 API Key 或 BaseURL 时创建 provider。
// 未配置时返回无类型的 nil，prompt/agent 步骤会报 PROVIDER_NOT_SET。
func newProvider(cfg config.LLMConfig, logger *zap.Logger) llm.Provider {
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return openaicompat.New(openaicompat.Config{
		ProviderName: cfg.DefaultProvider,
		APIKey:       cfg.APIKey,
		BaseURL:      baseURL,
		DefaultModel: cfg.DefaultModel,
		Timeout:      cfg.Timeout,
		MaxRetries:   cfg.MaxRetries,
	}, logger)
}

// startReloader 监听配置文件，热更新存储阈值与日志级别
func startReloader(ctx context.Context, loader *config.Loader, cfg *config.Config, path string,
	store *state.Store, level zap.AtomicLevel, logger *zap.Logger) (func(), error) {
	watcher, err := config.NewFileWatcher([]string{path}, config.WithWatcherLogger(logger))
	if err != nil {
		return nil, err
	}
	reloader := config.NewReloader(loader, watcher, cfg, logger)
	reloader.OnReload(func(_, next *config.Config, changes []config.ConfigChange) {
		store.ApplyConfig(storeConfig(next.State))
		level.SetLevel(parseLevel(next.Log.Level))
		for _, c := range changes {
			if c.RequiresRestart {
				logger.Warn("config change takes effect on next run", zap.String("path", c.Path))
			}
		}
	})
	if err := reloader.Start(ctx); err != nil {
		return nil, err
	}
	return func() { _ = reloader.Stop() }, nil
}

// progressPrinter 将步骤状态变化输出为一行进度
func progressPrinter(w io.Writer) eventbus.Handler {
	var mu sync.Mutex
	return func(ev eventbus.Event) {
		p, ok := ev.Payload.(state.StepUpdatedPayload)
		if !ok || p.Updates.Status == nil || p.State == nil {
			return
		}
		step, ok := p.State.StepByID(p.StepID)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		line := fmt.Sprintf("[%d/%d] %-24s %s", step.Index+1, len(p.State.Steps), step.Name, *p.Updates.Status)
		if step.Error != "" {
			line += ": " + step.Error
		}
		fmt.Fprintln(w, line)
	}
}
