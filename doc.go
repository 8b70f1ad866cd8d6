// Package restflow is a workflow and agent orchestration platform.
//
// RestFlow lets you compose directed workflows of typed nodes (triggers,
// HTTP calls, data transforms, LLM agents, email, Python scripts) and
// schedule recurring background agents whose bodies are tool-using LLM
// loops. All state lives in a single embedded database; functionality is
// exposed through a long-lived daemon, an HTTP/webhook server and a CLI.
//
// # Quick Start
//
// Install RestFlow:
//
//	go install github.com/restflow-ai/restflow/cmd/restflow@latest
//
// Start the daemon:
//
//	restflow daemon
//
// Run a workflow:
//
//	restflow workflow run my-workflow.yaml
//
// # Packages
//
// The core subsystems live under pkg/:
//
//   - pkg/engine — workflow graph, scheduler and executor
//   - pkg/queue — the persistent three-table task queue
//   - pkg/background — background-agent scheduler and worker pool
//   - pkg/reasoning — the ReAct agent executor
//   - pkg/tools — tool registry, wrapper chain and built-in tools
//   - pkg/subagent — parallel sub-agent tracking and spawning
//   - pkg/storage — the embedded key-value store
package restflow
