// Package server assembles the dirigent runtime: configuration,
// logging, the inference client, the tool registry, the agent pool,
// the async task layer, event streaming, workflow orchestration,
// health checks, and the HTTP surface, with a single graceful
// shutdown path.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dirigent-ai/dirigent/internal/agent"
	"github.com/dirigent-ai/dirigent/internal/async"
	"github.com/dirigent-ai/dirigent/internal/config"
	"github.com/dirigent-ai/dirigent/internal/health"
	"github.com/dirigent-ai/dirigent/internal/httpapi"
	"github.com/dirigent-ai/dirigent/internal/inference"
	"github.com/dirigent-ai/dirigent/internal/logging"
	"github.com/dirigent-ai/dirigent/internal/metrics"
	"github.com/dirigent-ai/dirigent/internal/orchestrator"
	"github.com/dirigent-ai/dirigent/internal/skills"
	"github.com/dirigent-ai/dirigent/internal/streaming"
	"github.com/dirigent-ai/dirigent/internal/templates"
	"github.com/dirigent-ai/dirigent/internal/tools"
	"github.com/dirigent-ai/dirigent/internal/tracing"
)

// Options are the process-level overrides the CLI can apply on top of
// the configuration file.
type Options struct {
	// ConfigPath is the YAML file to load and watch. Empty loads the
	// defaults (plus the implicit ./dirigent.yaml when present) and
	// disables hot reload.
	ConfigPath string
	// Listen overrides service.listen when non-empty.
	Listen string
}

// Runtime owns every long-lived component of a dirigent process.
type Runtime struct {
	cfg        *config.Config
	cfgManager *config.Manager
	logs       *logging.Service
	logger     *zap.Logger

	collector *metrics.Collector
	inference *inference.Client
	tools     *tools.Registry
	agents    *agent.Manager
	bus       *async.EventBus
	tasks     *async.Service
	redis     *redis.Client
	stream    *streaming.Manager
	engine    *orchestrator.Engine
	checks    *health.Manager

	http     *http.Server
	busSubID string
}

// New loads configuration and constructs the full component graph.
// Nothing starts running until Run.
func New(opts Options) (*Runtime, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Listen != "" {
		cfg.Service.Listen = opts.Listen
	}

	logs, err := logging.New(logging.Options{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		FileMaxMB: cfg.Logging.FileMaxMB,
		RingSize:  cfg.Logging.RingSize,
	})
	if err != nil {
		return nil, err
	}
	logger := logs.Logger()

	if err := tracing.Initialize(cfg.Tracing, logger.Named("tracing")); err != nil {
		// Trace export is observability, not a serving dependency.
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}

	collector := metrics.NewCollector(cfg.Metrics.WindowSize)

	inf, err := inference.New(cfg.Inference, logger.Named("inference"))
	if err != nil {
		return nil, fmt.Errorf("build inference client: %w", err)
	}

	reg := tools.NewRegistry(logger.Named("tools"))
	if err := tools.RegisterBuiltins(reg); err != nil {
		return nil, fmt.Errorf("register built-in tools: %w", err)
	}
	if cfg.Agents.SkillsDir != "" {
		installSkills(reg, cfg.Agents.SkillsDir, logger.Named("skills"))
	}

	agents := agent.NewManager(cfg.Agents, inf, reg, logger.Named("agents"))
	bus := async.NewEventBus(cfg.Events.HistorySize, logger.Named("events"))
	tasks := async.NewService(cfg.Async, bus, logger.Named("async"))

	var redisClient *redis.Client
	var mirror *streaming.Mirror
	if cfg.Events.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Events.Redis.Addr,
			Password: cfg.Events.Redis.Password,
			DB:       cfg.Events.Redis.DB,
		})
		mirror = streaming.NewMirror(redisClient, cfg.Events.Redis.StreamPrefix,
			cfg.Events.Redis.MaxLen, logger.Named("mirror"))
	}
	stream := streaming.NewManager(cfg.Events.HistorySize, mirror, logger.Named("streaming"))

	engine := orchestrator.NewEngine(agents, tasks, stream, collector,
		cfg.Orchestrator, logger.Named("orchestrator"))
	if cfg.Orchestrator.TemplatesDir != "" {
		registerTemplates(engine, cfg.Orchestrator.TemplatesDir, logger.Named("templates"))
	}

	checks := health.NewManager(0, logger.Named("health"))
	if err := checks.Register(health.NewInferenceChecker(inf)); err != nil {
		return nil, err
	}
	if err := checks.Register(health.NewQueueChecker(tasks, 0)); err != nil {
		return nil, err
	}
	agentsCheck := health.NewFuncChecker("agents", false, time.Second, func(context.Context) health.CheckResult {
		if !tasks.Running() {
			return health.Fail("agents", "task layer down, agents cannot execute")
		}
		return health.Pass("agents", fmt.Sprintf("%d agents registered, %d running",
			agents.Count(), agents.RunningCount()))
	})
	if err := checks.Register(agentsCheck); err != nil {
		return nil, err
	}

	var cfgManager *config.Manager
	if opts.ConfigPath != "" {
		cfgManager, err = config.NewManager(opts.ConfigPath, logger.Named("config"))
		if err != nil {
			return nil, err
		}
		cfgManager.OnChange(func(old, cur *config.Config) {
			if cur.Logging.Level != old.Logging.Level {
				if err := logs.SetLevel(cur.Logging.Level); err != nil {
					logger.Warn("Ignoring invalid log level from reload",
						zap.String("level", cur.Logging.Level), zap.Error(err))
					return
				}
				logger.Info("Log level changed", zap.String("level", cur.Logging.Level))
			}
		})
	}

	r := &Runtime{
		cfg:        cfg,
		cfgManager: cfgManager,
		logs:       logs,
		logger:     logger,
		collector:  collector,
		inference:  inf,
		tools:      reg,
		agents:     agents,
		bus:        bus,
		tasks:      tasks,
		redis:      redisClient,
		stream:     stream,
		engine:     engine,
		checks:     checks,
	}
	r.http = &http.Server{
		Addr:           cfg.Service.Listen,
		Handler:        r.buildHandler(),
		ReadTimeout:    cfg.Service.ReadTimeout,
		WriteTimeout:   cfg.Service.WriteTimeout,
		MaxHeaderBytes: cfg.Service.MaxHeaderBytes,
	}
	return r, nil
}

// installSkills loads markdown skills from dir and installs the enabled
// ones as tools. Skills are an overlay on the built-in tool set; a bad
// skill file degrades the overlay, it never stops the process.
func installSkills(reg *tools.Registry, dir string, logger *zap.Logger) {
	sr := skills.NewRegistry()
	if err := sr.LoadDirectory(dir); err != nil {
		logger.Warn("Skill directory load incomplete",
			zap.String("dir", dir), zap.Error(err))
	}
	installed, err := sr.Install(reg)
	if err != nil {
		logger.Warn("Some skills failed to install", zap.Error(err))
	}
	if installed > 0 {
		logger.Info("Skills installed",
			zap.Int("count", installed), zap.String("dir", dir))
	}
}

// registerTemplates loads YAML workflow templates from dir and registers
// every one that compiles. Failures are per-file: a bad template is
// logged and skipped so one typo cannot hold back the rest.
func registerTemplates(engine *orchestrator.Engine, dir string, logger *zap.Logger) {
	tr := templates.NewRegistry()
	if err := tr.LoadDirectory(dir); err != nil {
		if !templates.IsLoadError(err) {
			logger.Warn("Template directory unavailable",
				zap.String("dir", dir), zap.Error(err))
			return
		}
		logger.Warn("Some templates failed to load",
			zap.String("dir", dir), zap.Error(err))
	}
	registered := 0
	for _, summary := range tr.List() {
		entry, ok := tr.Get(summary.Key)
		if !ok {
			continue
		}
		def, err := templates.Compile(entry.Template)
		if err != nil {
			logger.Warn("Template did not compile",
				zap.String("template", summary.Key), zap.Error(err))
			continue
		}
		if _, err := engine.RegisterWorkflow(def); err != nil {
			logger.Warn("Template workflow rejected",
				zap.String("template", summary.Key), zap.Error(err))
			continue
		}
		registered++
	}
	if registered > 0 {
		logger.Info("Workflow templates registered",
			zap.Int("count", registered), zap.String("dir", dir))
	}
}

// buildHandler registers every HTTP surface on one mux and wraps it in
// the middleware stack.
func (r *Runtime) buildHandler() http.Handler {
	mux := http.NewServeMux()
	log := r.logger.Named("http")

	httpapi.NewAgentsHandler(r.agents, r.tasks, log).RegisterRoutes(mux)
	httpapi.NewSystemHandler(r.agents, r.tasks, r.cfgManager, r.checks, log).RegisterRoutes(mux)
	httpapi.NewWorkflowsHandler(r.engine, r.tasks, log).RegisterRoutes(mux)
	httpapi.NewMetricsHandler(r.collector, log).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(r.stream, log).RegisterRoutes(mux)
	health.NewHTTPHandler(r.checks, r.logger.Named("health")).RegisterRoutes(mux)

	return httpapi.Chain(mux,
		httpapi.WithRecovery(log),
		httpapi.WithCORS(),
		httpapi.WithRequestLogging(log),
		httpapi.WithMetrics(r.collector),
	)
}

// Handler exposes the fully assembled HTTP handler. Tests drive the
// runtime through it without binding a port.
func (r *Runtime) Handler() http.Handler { return r.http.Handler }

// Engine exposes the workflow engine for embedding callers.
func (r *Runtime) Engine() *orchestrator.Engine { return r.engine }

// Agents exposes the agent manager for embedding callers.
func (r *Runtime) Agents() *agent.Manager { return r.agents }

// Tools exposes the tool registry for embedding callers.
func (r *Runtime) Tools() *tools.Registry { return r.tools }

// Run starts the background components and serves HTTP until ctx is
// cancelled or the listener fails. It always runs the shutdown
// sequence before returning.
func (r *Runtime) Run(ctx context.Context) error {
	r.tasks.Start()
	r.checks.Start()
	if r.cfgManager != nil {
		if err := r.cfgManager.Start(); err != nil {
			r.logger.Warn("Config hot reload unavailable", zap.Error(err))
		}
	}
	r.busSubID = r.bus.Subscribe(r.forwardOperationEvent)

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("HTTP server listening",
			zap.String("addr", r.http.Addr),
			zap.Int("workers", r.tasks.Workers()),
		)
		if err := r.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		r.logger.Info("Shutdown signal received")
		return r.shutdown(nil)
	case err := <-errCh:
		return r.shutdown(err)
	}
}

// forwardOperationEvent mirrors async bus events onto the streaming
// "operations" topic so SSE and WebSocket clients can follow the task
// layer without a bus subscription.
func (r *Runtime) forwardOperationEvent(evt async.Event) {
	data := map[string]interface{}{}
	if evt.OperationID != "" {
		data["operation_id"] = evt.OperationID
	}
	if evt.Payload != nil {
		data["payload"] = evt.Payload
	}
	r.stream.Publish(streaming.Event{
		Topic:     streaming.TopicOperations,
		Type:      strings.ToLower(evt.Type),
		Message:   evt.OperationID,
		Data:      data,
		Timestamp: evt.Timestamp,
	})
}

// shutdown drains in dependency order: HTTP first so no new work
// arrives, then the task layer so in-flight operations finish, then
// the event fabric, and the logger last.
func (r *Runtime) shutdown(cause error) error {
	grace := r.cfg.Service.GracefulTimeout

	httpCtx, cancel := context.WithTimeout(context.Background(), grace)
	if err := r.http.Shutdown(httpCtx); err != nil {
		r.logger.Warn("HTTP server did not drain cleanly", zap.Error(err))
	}
	cancel()

	r.bus.Unsubscribe(r.busSubID)
	r.checks.Stop()
	if r.cfgManager != nil {
		_ = r.cfgManager.Stop()
	}
	r.agents.StopAll()

	taskCtx, cancel := context.WithTimeout(context.Background(), grace)
	if err := r.tasks.Shutdown(taskCtx); err != nil {
		r.logger.Warn("Task layer did not drain cleanly", zap.Error(err))
	}
	cancel()

	r.stream.Close()
	if r.redis != nil {
		_ = r.redis.Close()
	}

	traceCtx, cancel := context.WithTimeout(context.Background(), grace)
	if err := tracing.Shutdown(traceCtx); err != nil {
		r.logger.Warn("Trace exporter shutdown failed", zap.Error(err))
	}
	cancel()

	r.logger.Info("Runtime stopped")
	_ = r.logs.Sync()
	return cause
}
