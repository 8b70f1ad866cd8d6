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

// Package server exposes the HTTP surface: webhook ingress, workflow
// submission/status, health and metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/restflow-ai/restflow/pkg/engine"
	"github.com/restflow-ai/restflow/pkg/storage"
	"github.com/restflow-ai/restflow/pkg/trigger"
)

// Config tunes the HTTP server.
type Config struct {
	Addr string
}

// Server is the HTTP/webhook surface.
type Server struct {
	cfg       Config
	manager   *trigger.Manager
	executor  *engine.Executor
	workflows *storage.WorkflowStore
	http      *http.Server
}

// New wires a server.
func New(cfg Config, manager *trigger.Manager, executor *engine.Executor, workflows *storage.WorkflowStore) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8089"
	}
	s := &Server{cfg: cfg, manager: manager, executor: executor, workflows: workflows}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/api/triggers/webhook/{webhookID}", s.handleWebhook)
	r.Post("/api/workflows/{workflowID}/execute", s.handleSubmit)
	r.Get("/api/executions/{executionID}", s.handleExecutionStatus)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("HTTP server listening", "addr", s.cfg.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook accepts any method; the trigger manager enforces the
// configured one.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	webhookID := chi.URLParam(r, "webhookID")

	headers := map[string]string{}
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}

	var body any
	raw, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(raw) > 0 {
		if strings.Contains(r.Header.Get("Content-Type"), "application/json") {
			if err := json.Unmarshal(raw, &body); err != nil {
				writeError(w, http.StatusBadRequest, "body is not valid JSON")
				return
			}
		} else {
			body = string(raw)
		}
	}

	resp, err := s.manager.HandleWebhook(r.Context(), webhookID, r.Method, headers, body)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, fmt.Sprintf("webhook %s not found", webhookID))
		case errors.Is(err, trigger.ErrUnauthorized):
			writeError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, trigger.ErrMethodNotAllowed):
			writeError(w, http.StatusMethodNotAllowed, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	if resp.ExecutionID != "" {
		writeJSON(w, http.StatusOK, map[string]string{"execution_id": resp.ExecutionID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": resp.Result})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	wf, err := s.workflows.Get(workflowID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("workflow %s not found", workflowID))
		return
	}
	input, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	executionID, err := s.executor.Submit(wf, input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"execution_id": executionID})
}

func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	summary, err := s.executor.ExecutionStatus(executionID)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("execution %s not found", executionID))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
