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

package book

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tombee/bookflow/pkg/engine"
	"github.com/tombee/bookflow/pkg/llm"
)

// FlowConfig configures a book flow.
type FlowConfig struct {
	// Title becomes the output filename.
	Title string

	// Topic is what the book is about. Required.
	Topic string

	// Goal describes what the finished book should achieve. Required.
	Goal string

	// OutputDir is where the finished markdown lands. Defaults to the
	// current directory.
	OutputDir string

	// Provider answers completion requests. Required.
	Provider llm.Provider

	// Model names the model passed to the provider.
	Model string

	// Bus receives lifecycle events. Required.
	Bus *engine.Bus

	// Tools the agents may use. Optional.
	Tools []engine.Tool

	// WrapCrew, when set, decorates every crew before kickoff.
	WrapCrew func(ctx context.Context, crew CrewRunner) CrewRunner

	Logger *slog.Logger
}

// NewFlow assembles the three-step book flow: plan the outline, write
// every chapter concurrently, then join and save the book.
func NewFlow(cfg FlowConfig) (*engine.Flow, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("book topic is required")
	}
	if cfg.Goal == "" {
		return nil, fmt.Errorf("book goal is required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("book flow requires an LLM provider")
	}
	if cfg.Bus == nil {
		return nil, fmt.Errorf("book flow requires an event bus")
	}

	title := cfg.Title
	if title == "" {
		title = cfg.Topic
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	state := &State{
		Title: title,
		Topic: cfg.Topic,
		Goal:  cfg.Goal,
	}

	deps := CrewDeps{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		Bus:      cfg.Bus,
		Tools:    cfg.Tools,
		WrapCrew: cfg.WrapCrew,
		Logger:   logger,
	}

	steps := []engine.Step{
		{
			Name: "generate_book_outline",
			Run: func(ctx context.Context, f *engine.Flow) (any, error) {
				return generateOutline(ctx, state, deps, logger)
			},
		},
		{
			Name:      "write_chapters",
			After:     []string{"generate_book_outline"},
			Condition: `len(state.Outline()) > 0`,
			Run: func(ctx context.Context, f *engine.Flow) (any, error) {
				return writeChapters(ctx, state, deps, logger)
			},
		},
		{
			Name:  "join_and_save",
			After: []string{"write_chapters"},
			Run: func(ctx context.Context, f *engine.Flow) (any, error) {
				return joinAndSave(state, cfg.OutputDir, logger)
			},
		},
	}

	return engine.NewFlow(engine.FlowConfig{
		Name:   title,
		Kind:   "BookFlow",
		Bus:    cfg.Bus,
		State:  state,
		Steps:  steps,
		Logger: logger,
	})
}

func generateOutline(ctx context.Context, state *State, deps CrewDeps, logger *slog.Logger) (any, error) {
	crew, err := NewOutlineCrew(deps)
	if err != nil {
		return nil, err
	}

	output, err := deps.wrap(ctx, crew).Kickoff(ctx, map[string]any{
		"topic": state.Topic,
		"goal":  state.Goal,
	})
	if err != nil {
		return nil, fmt.Errorf("outline crew failed: %w", err)
	}

	outline, err := ParseOutline(output.Raw)
	if err != nil {
		return nil, err
	}

	state.SetOutline(outline)
	logger.Info("book outline ready", "chapters", len(outline))
	return outline, nil
}

func writeChapters(ctx context.Context, state *State, deps CrewDeps, logger *slog.Logger) (any, error) {
	outline := state.Outline()

	outlineJSON, err := json.Marshal(outline)
	if err != nil {
		return nil, fmt.Errorf("failed to encode outline: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(outline))

	for i, ch := range outline {
		wg.Add(1)
		go func(index int, ch ChapterOutline) {
			defer wg.Done()

			logger.Info("writing chapter", "title", ch.Title)

			crew, err := NewChapterCrew(deps)
			if err != nil {
				errCh <- err
				cancel()
				return
			}

			output, err := deps.wrap(ctx, crew).Kickoff(ctx, map[string]any{
				"topic":               state.Topic,
				"goal":                state.Goal,
				"chapter_title":       ch.Title,
				"chapter_description": ch.Description,
				"book_outline":        string(outlineJSON),
			})
			if err != nil {
				errCh <- fmt.Errorf("chapter %q failed: %w", ch.Title, err)
				cancel()
				return
			}

			state.AddChapter(index, Chapter{Title: ch.Title, Content: output.Raw})
		}(i, ch)
	}

	wg.Wait()
	close(errCh)
	if err := <-errCh; err != nil {
		return nil, err
	}

	return len(state.Chapters()), nil
}

func joinAndSave(state *State, dir string, logger *slog.Logger) (any, error) {
	content := Render(state.Chapters())

	path, err := Save(dir, state.Title, content)
	if err != nil {
		return nil, err
	}

	logger.Info("book saved", "path", path)
	return path, nil
}
