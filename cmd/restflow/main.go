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

// Command restflow is the RestFlow CLI and daemon.
//
// Usage:
//
//	restflow daemon --config restflow.yaml
//	restflow workflow run my-workflow.yaml
//	restflow agent list
//	restflow secret set OPENAI_API_KEY
package main

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/alecthomas/kong"

	restflow "github.com/restflow-ai/restflow"
	"github.com/restflow-ai/restflow/pkg/logger"
	"github.com/restflow-ai/restflow/pkg/paths"
)

// Exit codes: 0 success, 1 user or configuration error, 2 failure to
// connect to the daemon.
const (
	exitOK         = 0
	exitUserError  = 1
	exitNoDaemon   = 2
	exitUnexpected = 3
)

// Globals are flags shared by every command.
type Globals struct {
	Config   string `short:"c" help:"Path to config file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile  string `help:"Log file path (empty = stderr)."`
}

// CLI is the command grammar.
type CLI struct {
	Globals

	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Daemon   DaemonCmd   `cmd:"" help:"Run the RestFlow daemon (workers, triggers, HTTP, IPC)."`
	Serve    ServeCmd    `cmd:"" help:"Run only the HTTP/webhook server."`
	Workflow WorkflowCmd `cmd:"" help:"Manage and run workflows."`
	Agent    AgentCmd    `cmd:"" help:"Manage background agents."`
	Task     TaskCmd     `cmd:"" help:"Inspect and control background tasks."`
	Secret   SecretCmd   `cmd:"" help:"Manage stored secrets."`
}

// VersionCmd prints version information.
type VersionCmd struct{}

// Run implements the command.
func (VersionCmd) Run(*Globals) error {
	fmt.Println(restflow.GetVersion().String())
	return nil
}

func main() {
	cli := CLI{}
	parser := kong.Must(&cli,
		kong.Name("restflow"),
		kong.Description("Workflow and background-agent orchestration platform."),
		kong.UsageOnError(),
	)
	kctx, err := parser.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUserError)
	}

	cleanup, err := logger.Setup(logger.Config{
		Level: cli.LogLevel,
		File:  cli.LogFile,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUserError)
	}
	defer cleanup()

	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
	os.Exit(exitOK)
}

// exitCodeFor maps an error to the documented exit codes.
func exitCodeFor(err error) int {
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return exitNoDaemon
	}
	var userErr *userError
	if errors.As(err, &userErr) {
		return exitUserError
	}
	return exitUnexpected
}

// userError marks user/config mistakes for exit code 1.
type userError struct{ err error }

func (e *userError) Error() string { return e.err.Error() }
func (e *userError) Unwrap() error { return e.err }

func userErrorf(format string, args ...any) error {
	return &userError{err: fmt.Errorf(format, args...)}
}

// dirs resolves the RestFlow home.
func dirs() (paths.Dirs, error) {
	d, err := paths.Resolve()
	if err != nil {
		return paths.Dirs{}, userErrorf("%v", err)
	}
	return d, nil
}
