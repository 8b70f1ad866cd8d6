// Copyright 2025 The RestFlow Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/restflow-ai/restflow/pkg/agent"
	"github.com/restflow-ai/restflow/pkg/background"
	"github.com/restflow-ai/restflow/pkg/config"
	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/events"
	"github.com/restflow-ai/restflow/pkg/ipc"
	"github.com/restflow-ai/restflow/pkg/llms"
	"github.com/restflow-ai/restflow/pkg/memory"
	"github.com/restflow-ai/restflow/pkg/nodes"
	"github.com/restflow-ai/restflow/pkg/observability"
	"github.com/restflow-ai/restflow/pkg/paths"
	"github.com/restflow-ai/restflow/pkg/queue"
	"github.com/restflow-ai/restflow/pkg/secrets"
	"github.com/restflow-ai/restflow/pkg/server"
	"github.com/restflow-ai/restflow/pkg/storage"
	"github.com/restflow-ai/restflow/pkg/tools"
	"github.com/restflow-ai/restflow/pkg/trigger"
)

// DaemonCmd runs the full daemon: workflow workers, background-agent
// pool, trigger manager, HTTP server and IPC surface.
type DaemonCmd struct{}

// ServeCmd runs only the HTTP/webhook surface (no background workers).
type ServeCmd struct{}

// runtime bundles the wired subsystems.
type runtime struct {
	dirs        paths.Dirs
	cfg         *config.Config
	store       *storage.Store
	workflows   *storage.WorkflowStore
	history     *storage.HistoryStore
	checkpoints *storage.CheckpointStore
	secrets     *secrets.Store
	executor    *engine.Executor
	workerPool  *engine.WorkerPool
	triggerMgr  *trigger.Manager
	definitions *agent.Definitions
	bgStorage   *background.Storage
	bgQueue     *background.FiringQueue
	bgPool      *background.WorkerPool
	bgRunner    *background.AgentRunner
	bgTicker    *background.Ticker
	httpServer  *server.Server
	ipcServer   *ipc.Server
	telemetry   *observability.Provider
}

// buildRuntime wires everything against the embedded store.
func buildRuntime(g *Globals) (*runtime, error) {
	d, err := dirs()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, userErrorf("%v", err)
	}

	telemetry, err := observability.Init(observability.Config{
		ServiceName: "restflow",
		DebugTraces: cfg.Observability.DebugTraces,
	})
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(d.Database())
	if err != nil {
		return nil, err
	}

	workflows, err := storage.NewWorkflowStore(store)
	if err != nil {
		return nil, err
	}
	history, err := storage.NewHistoryStore(store)
	if err != nil {
		return nil, err
	}
	checkpoints, err := storage.NewCheckpointStore(store)
	if err != nil {
		return nil, err
	}
	agentTasks, err := storage.NewAgentTaskStore(store)
	if err != nil {
		return nil, err
	}
	triggers, err := storage.NewTriggerStore(store)
	if err != nil {
		return nil, err
	}

	masterKey, err := secrets.LoadMasterKey(d.MasterKey())
	if err != nil {
		return nil, err
	}
	secretStore, err := secrets.NewStore(store, masterKey)
	if err != nil {
		return nil, err
	}

	// LLM providers.
	providers := llms.NewRegistry()
	for name, llmCfg := range cfg.LLMs {
		if _, err := providers.CreateFromConfig(name, llmCfg); err != nil {
			return nil, userErrorf("llm %q: %v", name, err)
		}
	}

	// Tool registry with the uniform wrapper chain.
	registry := tools.NewRegistry().
		Use(tools.NewTimeoutWrapper(6 * time.Minute)).
		Use(tools.NewRateLimitWrapper(16))
	registry.Metrics = telemetry.Metrics
	openAIKey := os.Getenv("OPENAI_API_KEY")
	for _, tool := range []tools.Tool{
		tools.NewHTTPTool(),
		tools.NewVisionTool(openAIKey, "", ""),
		tools.NewProcessTool(),
		tools.NewDocumentTool(),
	} {
		if err := registry.RegisterTool(tool); err != nil {
			return nil, err
		}
	}
	for _, mcpCfg := range cfg.MCP {
		source := tools.NewMCPSource(mcpCfg)
		if err := source.Connect(context.Background(), registry); err != nil {
			slog.Warn("MCP server unavailable", "name", mcpCfg.Name, "error", err)
		}
	}

	// Workflow engine.
	taskQueue, err := queue.New(store)
	if err != nil {
		return nil, err
	}
	scheduler := engine.NewScheduler(taskQueue)
	nodeRegistry := nodes.NewRegistry().
		Register(nodes.PrintExecutor{}).
		Register(nodes.TransformExecutor{}).
		Register(nodes.NewHTTPExecutor()).
		Register(nodes.EmailExecutor{}).
		Register(nodes.NewPythonExecutor(nodes.NewPythonManager(d.Root))).
		Register(nodes.NewAgentExecutor(providers, cfg.DefaultProvider))
	executor := engine.NewExecutor(scheduler, nodeRegistry, history, secretStore)
	workerPool := engine.NewWorkerPool(executor, cfg.Workers.WorkflowWorkers)
	workerPool.Metrics = telemetry.Metrics

	// Trigger manager.
	triggerMgr := trigger.NewManager(workflows, triggers, executor)

	// Background-agent runtime.
	agentsDir, err := d.Agents()
	if err != nil {
		return nil, err
	}
	definitions, err := agent.NewDefinitions(agentsDir)
	if err != nil {
		return nil, err
	}
	bgStorage := background.NewStorage(agentTasks)
	bgQueue := background.NewFiringQueue()
	traces, err := events.NewTraceRecorder(store, d)
	if err != nil {
		return nil, err
	}
	agentMemory, err := memory.Open(d.Root)
	if err != nil {
		return nil, err
	}
	bgRunner := background.NewAgentRunner(definitions, providers, cfg.DefaultProvider,
		registry, bgStorage, checkpoints).
		WithMemory(agentMemory).
		WithTraces(traces)
	bgPool := background.NewWorkerPool(bgQueue, bgStorage, bgRunner, background.PoolConfig{
		WorkerCount:   cfg.Workers.AgentWorkers,
		MaxConcurrent: cfg.Workers.MaxConcurrentAgents,
	})
	bgPool.Metrics = telemetry.Metrics
	bgTicker := background.NewTicker(bgStorage, bgQueue)

	httpServer := server.New(server.Config{Addr: cfg.Server.Addr}, triggerMgr, executor, workflows)
	ipcServer := ipc.NewServer(d.Socket())

	rt := &runtime{
		dirs:        d,
		cfg:         cfg,
		store:       store,
		workflows:   workflows,
		history:     history,
		checkpoints: checkpoints,
		secrets:     secretStore,
		executor:    executor,
		workerPool:  workerPool,
		triggerMgr:  triggerMgr,
		definitions: definitions,
		bgStorage:   bgStorage,
		bgQueue:     bgQueue,
		bgPool:      bgPool,
		bgRunner:    bgRunner,
		bgTicker:    bgTicker,
		httpServer:  httpServer,
		ipcServer:   ipcServer,
		telemetry:   telemetry,
	}
	rt.registerIPCHandlers()
	return rt, nil
}

// Run implements the daemon command.
func (DaemonCmd) Run(g *Globals) error {
	rt, err := buildRuntime(g)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rt.triggerMgr.Init(); err != nil {
		return err
	}

	rt.workerPool.Start(ctx)
	rt.bgPool.Start(ctx)
	go rt.bgTicker.Run(ctx)
	go rt.triggerMgr.RunScheduleTicker(ctx)
	go rt.runCheckpointGC(ctx)
	go func() {
		if err := rt.ipcServer.Serve(ctx); err != nil {
			slog.Error("IPC server failed", "error", err)
		}
	}()
	go func() {
		if err := rt.httpServer.Start(); err != nil {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	slog.Info("RestFlow daemon running", "dir", rt.dirs.Root, "http", rt.cfg.Server.Addr)
	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = rt.httpServer.Shutdown(shutdownCtx)
	rt.workerPool.Stop()
	rt.bgPool.Stop()
	return nil
}

// Run implements the serve command.
func (ServeCmd) Run(g *Globals) error {
	rt, err := buildRuntime(g)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Sync-mode webhooks execute inline; async submissions still need
	// workers to drain.
	rt.workerPool.Start(ctx)
	go func() {
		if err := rt.httpServer.Start(); err != nil {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = rt.httpServer.Shutdown(shutdownCtx)
	rt.workerPool.Stop()
	return nil
}

// runCheckpointGC expires old checkpoints hourly.
func (rt *runtime) runCheckpointGC(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := rt.checkpoints.DeleteExpired(time.Now()); err != nil {
				slog.Warn("Checkpoint GC failed", "error", err)
			} else if n > 0 {
				slog.Info("Expired checkpoints removed", "count", n)
			}
		}
	}
}

func (rt *runtime) close() {
	if rt.definitions != nil {
		_ = rt.definitions.Close()
	}
	if rt.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = rt.telemetry.Shutdown(ctx)
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}
