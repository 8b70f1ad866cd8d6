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

// Package observability initializes OpenTelemetry tracing and the
// Prometheus-exported metrics used by the schedulers and worker pools.
package observability

import (
	"context"
	"fmt"

	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes observability setup.
type Config struct {
	// ServiceName tags traces and metrics.
	ServiceName string
	// DebugTraces writes spans to stderr via the stdout exporter.
	DebugTraces bool
}

// Metrics are the counters the core increments. All are safe for
// concurrent use.
type Metrics struct {
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	TasksRecovered metric.Int64Counter
	AgentFirings   metric.Int64Counter
	ToolCalls      metric.Int64Counter
}

// Provider bundles the initialized telemetry handles.
type Provider struct {
	Tracer  trace.Tracer
	Metrics *Metrics

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
}

// Init wires tracing and metrics. Metrics surface on the default
// Prometheus registry, served by the HTTP server's /metrics.
func Init(cfg Config) (*Provider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "restflow"
	}

	var traceOpts []sdktrace.TracerProviderOption
	if cfg.DebugTraces {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	}
	tracerProvider := sdktrace.NewTracerProvider(traceOpts...)
	otel.SetTracerProvider(tracerProvider)

	promExporter, err := otelprom.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExporter))
	otel.SetMeterProvider(meterProvider)

	meter := meterProvider.Meter(cfg.ServiceName)
	metrics := &Metrics{}
	for _, c := range []struct {
		counter *metric.Int64Counter
		name    string
		desc    string
	}{
		{&metrics.TasksCompleted, "restflow_tasks_completed_total", "Workflow tasks completed"},
		{&metrics.TasksFailed, "restflow_tasks_failed_total", "Workflow tasks failed"},
		{&metrics.TasksRecovered, "restflow_tasks_recovered_total", "Stalled tasks recovered"},
		{&metrics.AgentFirings, "restflow_agent_firings_total", "Background agent firings"},
		{&metrics.ToolCalls, "restflow_tool_calls_total", "Agent tool calls dispatched"},
	} {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, fmt.Errorf("failed to create counter %s: %w", c.name, err)
		}
		*c.counter = counter
	}

	return &Provider{
		Tracer:         tracerProvider.Tracer(cfg.ServiceName),
		Metrics:        metrics,
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
	}, nil
}

// Shutdown flushes exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return err
	}
	return p.meterProvider.Shutdown(ctx)
}
