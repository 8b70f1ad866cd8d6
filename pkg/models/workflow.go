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

// Package models defines the persisted entity types shared across the
// RestFlow core. All timestamps are integer milliseconds since epoch;
// identifiers are opaque strings (typically UUIDs).
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NodeKind identifies a node executor variant.
type NodeKind string

const (
	NodeManualTrigger   NodeKind = "manual_trigger"
	NodeWebhookTrigger  NodeKind = "webhook_trigger"
	NodeScheduleTrigger NodeKind = "schedule_trigger"
	NodeAgent           NodeKind = "agent"
	NodeHTTPRequest     NodeKind = "http_request"
	NodePrint           NodeKind = "print"
	NodeDataTransform   NodeKind = "data_transform"
	NodePython          NodeKind = "python"
	NodeEmail           NodeKind = "email"
)

// IsTrigger reports whether the kind is a definition-only trigger node.
func (k NodeKind) IsTrigger() bool {
	switch k {
	case NodeManualTrigger, NodeWebhookTrigger, NodeScheduleTrigger:
		return true
	}
	return false
}

// Position is an optional editor hint carried with a node.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a unit of computation in a workflow.
type Node struct {
	ID       string          `json:"id"`
	Kind     NodeKind        `json:"kind"`
	Config   json.RawMessage `json:"config,omitempty"`
	Position *Position       `json:"position,omitempty"`
}

// Edge is a directed dependency between two nodes.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Workflow is a named DAG of nodes.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID returns the node with the given id, if present.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// TriggerNode returns the workflow's trigger node, if any. Trigger nodes
// have no incoming edges by contract.
func (w *Workflow) TriggerNode() (Node, bool) {
	for _, n := range w.Nodes {
		if n.Kind.IsTrigger() {
			return n, true
		}
	}
	return Node{}, false
}

// ResponseMode controls how a webhook trigger answers.
type ResponseMode string

const (
	ResponseAsync ResponseMode = "async"
	ResponseSync  ResponseMode = "sync"
)

// AuthMode discriminates AuthConfig variants.
type AuthMode string

const (
	AuthNone   AuthMode = "none"
	AuthAPIKey AuthMode = "api_key"
	AuthBasic  AuthMode = "basic"
	AuthJWT    AuthMode = "jwt"
)

// AuthConfig describes webhook authentication.
type AuthConfig struct {
	Mode AuthMode `json:"mode"`
	// ApiKey mode
	Key        string `json:"key,omitempty"`
	HeaderName string `json:"header_name,omitempty"`
	// Basic mode
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// JWT mode: HMAC secret used to verify inbound tokens.
	JWTSecret string `json:"jwt_secret,omitempty"`
}

// TriggerConfig is the trigger node's parsed configuration.
type TriggerConfig struct {
	Kind NodeKind `json:"kind"`
	// Webhook triggers
	WebhookID    string       `json:"webhook_id,omitempty"`
	Method       string       `json:"method,omitempty"`
	Auth         *AuthConfig  `json:"auth,omitempty"`
	ResponseMode ResponseMode `json:"response_mode,omitempty"`
	// Schedule triggers
	Cron       string `json:"cron,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
	IntervalMS int64  `json:"interval_ms,omitempty"`
}

// ActiveTrigger binds a trigger configuration to a workflow.
type ActiveTrigger struct {
	ID              string        `json:"id"`
	WorkflowID      string        `json:"workflow_id"`
	Config          TriggerConfig `json:"config"`
	TriggerCount    uint64        `json:"trigger_count"`
	LastTriggeredAt int64         `json:"last_triggered_at,omitempty"`
	CreatedAt       int64         `json:"created_at"`
}

// NewActiveTrigger creates an active trigger for a workflow. Webhook
// triggers are addressable by their webhook id; other kinds get a UUID.
func NewActiveTrigger(workflowID string, cfg TriggerConfig) ActiveTrigger {
	id := cfg.WebhookID
	if id == "" {
		id = uuid.NewString()
	}
	return ActiveTrigger{
		ID:         id,
		WorkflowID: workflowID,
		Config:     cfg,
		CreatedAt:  time.Now().UnixMilli(),
	}
}

// RecordTrigger updates firing statistics.
func (t *ActiveTrigger) RecordTrigger() {
	t.TriggerCount++
	t.LastTriggeredAt = time.Now().UnixMilli()
}
