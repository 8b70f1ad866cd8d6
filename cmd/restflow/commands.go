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
	"encoding/json"
	"fmt"
	"os"
	"syscall"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/restflow-ai/restflow/pkg/ipc"
	"github.com/restflow-ai/restflow/pkg/models"
)

// dial connects to the running daemon.
func dial() (*ipc.Client, error) {
	d, err := dirs()
	if err != nil {
		return nil, err
	}
	return ipc.Dial(d.Socket())
}

// printJSON renders a result for the terminal.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// WorkflowCmd groups workflow subcommands.
type WorkflowCmd struct {
	List       WorkflowListCmd       `cmd:"" help:"List stored workflows."`
	Run        WorkflowRunCmd        `cmd:"" help:"Run a workflow by id or definition file."`
	Activate   WorkflowActivateCmd   `cmd:"" help:"Activate a workflow's trigger."`
	Deactivate WorkflowDeactivateCmd `cmd:"" help:"Deactivate a workflow's trigger."`
}

// WorkflowListCmd lists workflows.
type WorkflowListCmd struct{}

// Run implements the command.
func (WorkflowListCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var workflows []models.Workflow
	if err := client.Call("workflow.list", nil, &workflows); err != nil {
		return err
	}
	for _, wf := range workflows {
		fmt.Printf("%s\t%s\t(%d nodes)\n", wf.ID, wf.Name, len(wf.Nodes))
	}
	return nil
}

// WorkflowRunCmd submits a workflow.
type WorkflowRunCmd struct {
	Workflow string `arg:"" help:"Workflow id, or path to a YAML/JSON definition."`
	Input    string `help:"JSON input payload." default:"{}"`
}

// Run implements the command.
func (c *WorkflowRunCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	workflowID := c.Workflow
	if _, statErr := os.Stat(c.Workflow); statErr == nil {
		wf, err := loadWorkflowFile(c.Workflow)
		if err != nil {
			return userErrorf("%v", err)
		}
		if err := client.Call("workflow.put", wf, nil); err != nil {
			return err
		}
		workflowID = wf.ID
	}

	if !json.Valid([]byte(c.Input)) {
		return userErrorf("--input must be valid JSON")
	}
	var result map[string]string
	err = client.Call("workflow.run", map[string]any{
		"id":    workflowID,
		"input": json.RawMessage(c.Input),
	}, &result)
	if err != nil {
		return err
	}
	fmt.Println(result["execution_id"])
	return nil
}

// loadWorkflowFile parses a workflow definition from YAML or JSON.
func loadWorkflowFile(path string) (models.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Workflow{}, err
	}
	var wf models.Workflow
	if json.Valid(data) {
		err = json.Unmarshal(data, &wf)
	} else {
		err = yaml.Unmarshal(data, &wf)
	}
	if err != nil {
		return models.Workflow{}, fmt.Errorf("failed to parse workflow %s: %w", path, err)
	}
	if wf.ID == "" {
		return models.Workflow{}, fmt.Errorf("workflow %s has no id", path)
	}
	return wf, nil
}

// WorkflowActivateCmd activates a trigger.
type WorkflowActivateCmd struct {
	ID string `arg:"" help:"Workflow id."`
}

// Run implements the command.
func (c *WorkflowActivateCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var trigger models.ActiveTrigger
	if err := client.Call("workflow.activate", idParams{ID: c.ID}, &trigger); err != nil {
		return err
	}
	return printJSON(trigger)
}

// WorkflowDeactivateCmd deactivates a trigger.
type WorkflowDeactivateCmd struct {
	ID string `arg:"" help:"Workflow id."`
}

// Run implements the command.
func (c *WorkflowDeactivateCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.Call("workflow.deactivate", idParams{ID: c.ID}, nil)
}

// AgentCmd groups agent subcommands.
type AgentCmd struct {
	List AgentListCmd `cmd:"" help:"List agent definitions."`
}

// AgentListCmd lists definitions.
type AgentListCmd struct{}

// Run implements the command.
func (AgentListCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var defs []models.AgentDefinition
	if err := client.Call("agent.definitions", nil, &defs); err != nil {
		return err
	}
	for _, def := range defs {
		fmt.Printf("%s\t%s\n", def.Name, def.Description)
	}
	return nil
}

// TaskCmd groups background-task subcommands.
type TaskCmd struct {
	List    TaskListCmd    `cmd:"" help:"List background agents."`
	Show    TaskShowCmd    `cmd:"" help:"Show a background agent and its events."`
	Create  TaskCreateCmd  `cmd:"" help:"Create a background agent from a YAML/JSON file."`
	Cancel  TaskCancelCmd  `cmd:"" help:"Cancel a running background task."`
	Message TaskMessageCmd `cmd:"" help:"Send a message (or steer instruction) to a running task."`
}

// TaskListCmd lists tasks.
type TaskListCmd struct{}

// Run implements the command.
func (TaskListCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var tasks []models.BackgroundAgent
	if err := client.Call("task.list", nil, &tasks); err != nil {
		return err
	}
	for _, task := range tasks {
		fmt.Printf("%s\t%s\t%s\tok=%d fail=%d\n",
			task.ID, task.Name, task.Status, task.SuccessCount, task.FailureCount)
	}
	return nil
}

// TaskShowCmd shows one task.
type TaskShowCmd struct {
	ID     string `arg:"" help:"Task id."`
	Events bool   `help:"Include the event log."`
}

// Run implements the command.
func (c *TaskShowCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var task models.BackgroundAgent
	if err := client.Call("task.get", idParams{ID: c.ID}, &task); err != nil {
		return err
	}
	if err := printJSON(task); err != nil {
		return err
	}
	if c.Events {
		var events []models.TaskEvent
		if err := client.Call("task.events", idParams{ID: c.ID}, &events); err != nil {
			return err
		}
		return printJSON(events)
	}
	return nil
}

// TaskCreateCmd creates a background agent.
type TaskCreateCmd struct {
	File string `arg:"" help:"Path to a YAML/JSON background-agent definition."`
}

// Run implements the command.
func (c *TaskCreateCmd) Run(*Globals) error {
	data, err := os.ReadFile(c.File)
	if err != nil {
		return userErrorf("%v", err)
	}
	var task models.BackgroundAgent
	if json.Valid(data) {
		err = json.Unmarshal(data, &task)
	} else {
		err = yaml.Unmarshal(data, &task)
	}
	if err != nil {
		return userErrorf("failed to parse %s: %v", c.File, err)
	}

	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var created models.BackgroundAgent
	if err := client.Call("task.create", task, &created); err != nil {
		return err
	}
	return printJSON(created)
}

// TaskCancelCmd cancels a running task.
type TaskCancelCmd struct {
	ID string `arg:"" help:"Task id."`
}

// Run implements the command.
func (c *TaskCancelCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var result map[string]bool
	if err := client.Call("task.cancel", idParams{ID: c.ID}, &result); err != nil {
		return err
	}
	if !result["cancelled"] {
		return userErrorf("task %s is not running", c.ID)
	}
	fmt.Println("cancelled")
	return nil
}

// TaskMessageCmd sends a message to a running task.
type TaskMessageCmd struct {
	ID      string `arg:"" help:"Task id."`
	Content string `arg:"" help:"Message content."`
	Steer   bool   `help:"Inject immediately as a steer instruction instead of a queued message."`
}

// Run implements the command.
func (c *TaskMessageCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.Call("task.message", map[string]any{
		"id": c.ID, "content": c.Content, "steer": c.Steer,
	}, nil)
}

// SecretCmd groups secret subcommands.
type SecretCmd struct {
	Set    SecretSetCmd    `cmd:"" help:"Store a secret (value prompted without echo)."`
	Get    SecretGetCmd    `cmd:"" help:"Print a secret's value."`
	List   SecretListCmd   `cmd:"" help:"List secret keys."`
	Delete SecretDeleteCmd `cmd:"" help:"Delete a secret."`
}

// SecretSetCmd stores a secret.
type SecretSetCmd struct {
	Key         string `arg:"" help:"Secret key."`
	Description string `help:"Optional description."`
}

// Run implements the command.
func (c *SecretSetCmd) Run(*Globals) error {
	fmt.Fprintf(os.Stderr, "Value for %s: ", c.Key)
	value, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return userErrorf("failed to read value: %v", err)
	}

	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.Call("secret.set", map[string]string{
		"key":         c.Key,
		"value":       string(value),
		"description": c.Description,
	}, nil)
}

// SecretGetCmd prints a secret value.
type SecretGetCmd struct {
	Key string `arg:"" help:"Secret key."`
}

// Run implements the command.
func (c *SecretGetCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var secret struct {
		Value string `json:"value"`
	}
	if err := client.Call("secret.get", map[string]string{"key": c.Key}, &secret); err != nil {
		return err
	}
	fmt.Println(secret.Value)
	return nil
}

// SecretListCmd lists secret metadata.
type SecretListCmd struct{}

// Run implements the command.
func (SecretListCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	var secrets []struct {
		Key         string `json:"key"`
		Description string `json:"description"`
	}
	if err := client.Call("secret.list", nil, &secrets); err != nil {
		return err
	}
	for _, s := range secrets {
		fmt.Printf("%s\t%s\n", s.Key, s.Description)
	}
	return nil
}

// SecretDeleteCmd deletes a secret.
type SecretDeleteCmd struct {
	Key string `arg:"" help:"Secret key."`
}

// Run implements the command.
func (c *SecretDeleteCmd) Run(*Globals) error {
	client, err := dial()
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()
	return client.Call("secret.delete", map[string]string{"key": c.Key}, nil)
}
