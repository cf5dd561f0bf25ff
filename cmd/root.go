// Copyright 2024 Google LLC
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

// Package cmd wires the pipeline configuration, collaborators, and
// telemetry into a cobra CLI. It mirrors the teacher's root-command
// shape (persistent flags for logging/telemetry, Setup/LoadConfig
// lifecycle hooks, a RootCommand-shaped contract for subcommands) but
// owns a *config.Config instead of a running server.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/googleapis/nl2sql-pipeline/internal/config"
	"github.com/googleapis/nl2sql-pipeline/internal/log"
	"github.com/googleapis/nl2sql-pipeline/internal/telemetry"
	"go.opentelemetry.io/otel/trace"
)

// version is overridden at build time via -ldflags "-X ...cmd.version=...".
var version = "dev"

// Command is the root CLI command. It satisfies the RootCommand
// contract subcommands (infer) depend on, so they can reach shared
// configuration and logging without importing cobra themselves.
type Command struct {
	*cobra.Command

	cfgFile     string
	logFormat   string
	logLevel    string
	gcpProject  string
	serviceName string

	cfg    *config.Config
	logger log.Logger
	tracer trace.Tracer
}

// RootCommand is the interface subcommands depend on, mirroring the
// teacher's internal/cli/invoke.RootCommand shape.
type RootCommand interface {
	Config() *config.Config
	Out() io.Writer
	LoadConfig(ctx context.Context) error
	Setup(ctx context.Context) (context.Context, func(context.Context) error, error)
	Logger() log.Logger
	Tracer() trace.Tracer
}

// NewCommand builds the root command and its subcommands.
func NewCommand() *Command {
	c := &Command{}

	rootCmd := &cobra.Command{
		Use:          "nl2sql",
		Short:        "Run the schema-aware natural-language-to-SQL inference pipeline",
		Version:      versionString(),
		SilenceUsage: true,
	}
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "path to the pipeline configuration YAML file (required)")
	flags.StringVar(&c.logFormat, "log-format", "standard", "logging format: 'standard' or 'JSON'")
	flags.StringVar(&c.logLevel, "log-level", log.Info, "logging level: DEBUG, INFO, WARN, or ERROR")
	flags.StringVar(&c.gcpProject, "telemetry-project", "", "Google Cloud project to export traces to; unset disables tracing")
	flags.StringVar(&c.serviceName, "telemetry-service-name", "", "service name attached to exported traces")

	c.Command = rootCmd
	rootCmd.AddCommand(newInferCommand(c))
	return c
}

func versionString() string {
	return version + "+" + strings.Join([]string{"dev", runtime.GOOS, runtime.GOARCH}, ".")
}

// Config returns the configuration loaded by LoadConfig.
func (c *Command) Config() *config.Config {
	return c.cfg
}

// Out returns the writer subcommands should print results to.
func (c *Command) Out() io.Writer {
	return c.Command.OutOrStdout()
}

// Logger returns the logger constructed by Setup.
func (c *Command) Logger() log.Logger {
	return c.logger
}

// Tracer returns the tracer constructed by Setup.
func (c *Command) Tracer() trace.Tracer {
	return c.tracer
}

// LoadConfig reads and validates the pipeline configuration file named
// by --config.
func (c *Command) LoadConfig(ctx context.Context) error {
	if c.cfgFile == "" {
		return fmt.Errorf("--config is required")
	}
	data, err := os.ReadFile(c.cfgFile)
	if err != nil {
		return fmt.Errorf("unable to read config file %q: %w", c.cfgFile, err)
	}
	cfg, err := config.Load(ctx, data)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return nil
}

// Setup initializes logging and tracing. It returns ctx unchanged and
// a shutdown function that must be called before the
// process exits to flush any buffered spans.
func (c *Command) Setup(ctx context.Context) (context.Context, func(context.Context) error, error) {
	logger, err := log.NewLogger(c.logFormat, c.logLevel, c.Command.OutOrStdout(), c.Command.ErrOrStderr())
	if err != nil {
		return ctx, nil, err
	}
	c.logger = logger

	tp, shutdown, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		GoogleCloudProject: c.gcpProject,
		ServiceName:        c.serviceName,
	})
	if err != nil {
		return ctx, nil, err
	}
	c.tracer = tp.Tracer(telemetry.InstrumentationName)

	return ctx, shutdown, nil
}
