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

// Package engine drives workflow executions: the static DAG view, the
// per-execution context, the scheduler feeding the persistent queue and
// the worker pool draining it.
package engine

import (
	"fmt"

	"github.com/restflow-ai/restflow/pkg/models"
)

// Graph is the static DAG view over a workflow definition.
type Graph struct {
	nodes      map[string]models.Node
	deps       map[string][]string // edges into a node
	downstream map[string][]string // edges out of a node
}

// NewGraph precomputes adjacency and rejects cyclic or malformed
// workflows: node ids must be unique, edges must reference existing
// nodes, trigger nodes must have no incoming edges.
func NewGraph(wf *models.Workflow) (*Graph, error) {
	g := &Graph{
		nodes:      make(map[string]models.Node, len(wf.Nodes)),
		deps:       make(map[string][]string),
		downstream: make(map[string][]string),
	}
	for _, n := range wf.Nodes {
		if _, exists := g.nodes[n.ID]; exists {
			return nil, fmt.Errorf("duplicate node id %q", n.ID)
		}
		g.nodes[n.ID] = n
	}
	for _, e := range wf.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.From)
		}
		to, ok := g.nodes[e.To]
		if !ok {
			return nil, fmt.Errorf("edge references unknown node %q", e.To)
		}
		if to.Kind.IsTrigger() {
			return nil, fmt.Errorf("trigger node %q cannot have incoming edges", e.To)
		}
		g.deps[e.To] = append(g.deps[e.To], e.From)
		g.downstream[e.From] = append(g.downstream[e.From], e.To)
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkAcyclic runs Kahn's algorithm over the adjacency maps.
func (g *Graph) checkAcyclic() error {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.deps[id])
	}
	var ready []string
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	visited := 0
	for len(ready) > 0 {
		id := ready[len(ready)-1]
		ready = ready[:len(ready)-1]
		visited++
		for _, next := range g.downstream[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	if visited != len(g.nodes) {
		return fmt.Errorf("workflow contains a cycle")
	}
	return nil
}

// Node returns a node by id.
func (g *Graph) Node(id string) (models.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Dependencies returns the ids of nodes with an edge into id.
func (g *Graph) Dependencies(id string) []string {
	return g.deps[id]
}

// Downstream returns the ids of nodes with an edge from id.
func (g *Graph) Downstream(id string) []string {
	return g.downstream[id]
}

// DependenciesMet reports whether every dependency of id has produced an
// output in the snapshot.
func (g *Graph) DependenciesMet(id string, ctx models.ContextSnapshot) bool {
	for _, dep := range g.deps[id] {
		if _, ok := ctx.NodeOutputs[dep]; !ok {
			return false
		}
	}
	return true
}

// Roots returns nodes with no dependencies, triggers excluded.
func (g *Graph) Roots() []models.Node {
	var roots []models.Node
	for id, n := range g.nodes {
		if n.Kind.IsTrigger() {
			continue
		}
		if len(g.deps[id]) == 0 {
			roots = append(roots, n)
		}
	}
	return roots
}

// ReadyAfterTrigger returns nodes whose only dependencies are trigger
// nodes (or none) — the initial frontier of an execution.
func (g *Graph) ReadyAfterTrigger() []models.Node {
	var ready []models.Node
	for id, n := range g.nodes {
		if n.Kind.IsTrigger() {
			continue
		}
		eligible := true
		for _, dep := range g.deps[id] {
			if !g.nodes[dep].Kind.IsTrigger() {
				eligible = false
				break
			}
		}
		if eligible {
			ready = append(ready, n)
		}
	}
	return ready
}

// TopologicalOrder returns non-trigger nodes in dependency order.
func (g *Graph) TopologicalOrder() []models.Node {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		count := 0
		for _, dep := range g.deps[id] {
			if !g.nodes[dep].Kind.IsTrigger() {
				count++
			}
		}
		indegree[id] = count
	}
	var order []models.Node
	var ready []string
	for id, n := range g.nodes {
		if !n.Kind.IsTrigger() && indegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, g.nodes[id])
		for _, next := range g.downstream[id] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
			}
		}
	}
	return order
}
