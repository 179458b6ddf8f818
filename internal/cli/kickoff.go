// Copyright 2025 Tom Barlow
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

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/tombee/bookflow/internal/config"
	"github.com/tombee/bookflow/internal/log"
	"github.com/tombee/bookflow/internal/tracing"
	"github.com/tombee/bookflow/pkg/book"
	"github.com/tombee/bookflow/pkg/engine"
	"github.com/tombee/bookflow/pkg/knowledge"
	"github.com/tombee/bookflow/pkg/llm"
	"github.com/tombee/bookflow/pkg/llm/providers"
	"github.com/tombee/bookflow/pkg/secrets"
	"github.com/tombee/bookflow/pkg/tools"
)

type kickoffFlags struct {
	title  string
	topic  string
	goal   string
	output string
	model  string
}

func newKickoffCommand(root *rootFlags) *cobra.Command {
	flags := &kickoffFlags{}

	cmd := &cobra.Command{
		Use:   "kickoff",
		Short: "Write a book",
		Long: `Kickoff runs the full book flow: an outline crew plans the
chapters, writing crews draft them concurrently, and the finished
book is saved as markdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKickoff(cmd.Context(), root, flags)
		},
	}

	cmd.Flags().StringVar(&flags.title, "title", "", "Book title (defaults to the topic)")
	cmd.Flags().StringVar(&flags.topic, "topic", "", "What the book is about")
	cmd.Flags().StringVar(&flags.goal, "goal", "", "What the finished book should achieve")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Output directory")
	cmd.Flags().StringVar(&flags.model, "model", "", "Model to use (overrides config)")

	return cmd
}

func runKickoff(ctx context.Context, root *rootFlags, flags *kickoffFlags) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	applyKickoffFlags(cfg, flags)

	masker := secrets.FromEnviron(os.Environ())

	logCfg := log.FromEnv()
	if root.verbose {
		logCfg.Level = "debug"
	}
	logCfg.Format = log.Format(cfg.Log.Format)
	logCfg.Masker = masker
	logger := log.New(logCfg)
	slog.SetDefault(logger)

	ctx, logger = correlateRun(ctx, logger)

	if err := promptForMissing(cfg); err != nil {
		return err
	}
	if cfg.Book.Topic == "" {
		return fmt.Errorf("a topic is required: pass --topic or run interactively")
	}
	if cfg.Book.Goal == "" {
		return fmt.Errorf("a goal is required: pass --goal or run interactively")
	}

	bus := engine.NewBus()

	inst := tracing.NewInstrumentor(cfg.Tracing, bus, tracing.WithLogger(logger))
	if err := inst.Instrument(ctx); err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := inst.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	provider, err := buildProvider(cfg, masker)
	if err != nil {
		return err
	}
	provider = inst.WrapProvider(provider)

	agentTools, cleanup, err := buildTools(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	goal, err := enrichGoal(ctx, cfg, bus, logger)
	if err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("Writing: ") + bookTitle(cfg))

	flow, err := book.NewFlow(book.FlowConfig{
		Title:     cfg.Book.Title,
		Topic:     cfg.Book.Topic,
		Goal:      goal,
		OutputDir: cfg.Book.OutputDir,
		Provider:  provider,
		Model:     cfg.LLM.Model,
		Bus:       bus,
		Tools:     agentTools,
		WrapCrew: func(ctx context.Context, crew book.CrewRunner) book.CrewRunner {
			return inst.WrapCrew(ctx, crew)
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	result, err := flow.Kickoff(ctx)
	if err != nil {
		return err
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := inst.ForceFlush(flushCtx); err != nil {
		logger.Warn("trace flush failed", "error", err)
	}

	if path, ok := result.(string); ok {
		fmt.Println(successStyle.Render("Book saved: ") + path)
	}
	return nil
}

// correlateRun tags the run context with a correlation ID. Provider
// HTTP requests pick it up as the X-Correlation-ID header, and every
// log line from here on carries it, tying both back to this run.
func correlateRun(ctx context.Context, logger *slog.Logger) (context.Context, *slog.Logger) {
	ctx, id := tracing.EnsureCorrelation(ctx)
	return ctx, logger.With("correlation_id", string(id))
}

func applyKickoffFlags(cfg *config.Config, flags *kickoffFlags) {
	if flags.title != "" {
		cfg.Book.Title = flags.title
	}
	if flags.topic != "" {
		cfg.Book.Topic = flags.topic
	}
	if flags.goal != "" {
		cfg.Book.Goal = flags.goal
	}
	if flags.output != "" {
		cfg.Book.OutputDir = flags.output
	}
	if flags.model != "" {
		cfg.LLM.Model = flags.model
	}
}

func bookTitle(cfg *config.Config) string {
	if cfg.Book.Title != "" {
		return cfg.Book.Title
	}
	return cfg.Book.Topic
}

// promptForMissing asks for the topic and goal when the run is
// interactive and either is missing.
func promptForMissing(cfg *config.Config) error {
	if !isInteractive() {
		return nil
	}
	if cfg.Book.Topic != "" && cfg.Book.Goal != "" {
		return nil
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("What should the book be about?").
				Value(&cfg.Book.Topic),
			huh.NewText().
				Title("What should the finished book achieve?").
				Value(&cfg.Book.Goal),
		),
	)
	return form.Run()
}

// buildProvider creates and authenticates the configured LLM provider.
// The resolved key is registered with the masker so it never appears in
// log output.
func buildProvider(cfg *config.Config, masker *secrets.Masker) (llm.Provider, error) {
	creds, err := llm.ResolveCredentials(cfg.LLM.Provider)
	if err != nil {
		return nil, err
	}
	masker.Add(creds.APIKey)
	if cfg.LLM.BaseURL != "" {
		creds.BaseURL = cfg.LLM.BaseURL
	}

	switch cfg.LLM.Provider {
	case "openai":
		return providers.NewOpenAIProvider(creds)
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.LLM.Provider)
	}
}

// buildTools assembles the registry of built-in and MCP tools. The
// returned cleanup closes MCP server connections.
func buildTools(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]engine.Tool, func(), error) {
	registry := tools.NewRegistry()

	builtins := []engine.Tool{
		tools.NewFileReadTool(cfg.Book.OutputDir),
		tools.NewFileWriteTool(cfg.Book.OutputDir),
		tools.NewWordCountTool(),
	}
	for _, t := range builtins {
		if err := registry.Register(t); err != nil {
			return nil, nil, err
		}
	}

	var servers []*tools.MCPServer
	cleanup := func() {
		for _, s := range servers {
			if err := s.Close(); err != nil {
				logger.Warn("failed to close MCP server", "server", s.Name(), "error", err)
			}
		}
	}

	for _, sc := range cfg.MCP {
		server, err := tools.ConnectMCPServer(ctx, tools.MCPServerConfig{
			Name:    sc.Name,
			Command: sc.Command,
			Args:    sc.Args,
			Env:     sc.Env,
			Timeout: sc.Timeout,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("failed to connect MCP server %q: %w", sc.Name, err)
		}
		servers = append(servers, server)

		remote, err := server.Tools(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		for _, t := range remote {
			if err := registry.Register(t); err != nil {
				cleanup()
				return nil, nil, err
			}
		}
		logger.Info("connected MCP server", "server", sc.Name, "tools", len(remote))
	}

	return registry.List(), cleanup, nil
}

// enrichGoal appends matching knowledge snippets to the book goal so
// the crews write with the configured background material in mind.
func enrichGoal(ctx context.Context, cfg *config.Config, bus *engine.Bus, logger *slog.Logger) (string, error) {
	goal := cfg.Book.Goal
	if len(cfg.Knowledge) == 0 {
		return goal, nil
	}

	source, err := knowledge.NewFileSource(bus, cfg.Knowledge...)
	if err != nil {
		return "", err
	}
	if source.Len() == 0 {
		return goal, nil
	}

	background, err := source.Query(ctx, cfg.Book.Topic)
	if err != nil {
		return "", err
	}
	if background != "" {
		logger.Info("using knowledge sources", "documents", source.Len())
		goal = goal + "\n\nBackground material:\n" + background
	}
	return goal, nil
}
