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
	"log/slog"

	"github.com/tombee/bookflow/pkg/engine"
	"github.com/tombee/bookflow/pkg/llm"
)

// CrewRunner is the crew surface the flow drives. *engine.Crew
// satisfies it; a wrap hook may substitute a decorated runner.
type CrewRunner interface {
	Name() string
	Kickoff(ctx context.Context, inputs map[string]any) (*engine.CrewOutput, error)
}

// CrewDeps carries the shared collaborators every crew needs.
type CrewDeps struct {
	// Provider answers completion requests.
	Provider llm.Provider

	// Model names the model passed to the provider.
	Model string

	// Bus receives lifecycle events.
	Bus *engine.Bus

	// Tools the writing agents may use. Optional.
	Tools []engine.Tool

	// WrapCrew, when set, decorates every crew before kickoff. The
	// tracing layer uses it to follow crew construction and execution.
	WrapCrew func(ctx context.Context, crew CrewRunner) CrewRunner

	Logger *slog.Logger
}

// wrap applies the WrapCrew hook when one is configured.
func (d CrewDeps) wrap(ctx context.Context, crew *engine.Crew) CrewRunner {
	if d.WrapCrew == nil {
		return crew
	}
	return d.WrapCrew(ctx, crew)
}

// NewOutlineCrew builds the crew that plans the book. A researcher
// gathers material on {topic}, then an outliner turns it into a JSON
// chapter list. The outline task's guardrail rejects output that does
// not parse.
func NewOutlineCrew(deps CrewDeps) (*engine.Crew, error) {
	researcher, err := engine.NewAgent(engine.AgentConfig{
		Role:      "Research Agent",
		Goal:      "Gather comprehensive information about {topic} to support the book outline",
		Backstory: "You're a seasoned researcher, known for gathering the best sources and understanding the key elements of any topic.",
		Model:     deps.Model,
		Provider:  deps.Provider,
		Tools:     deps.Tools,
		Bus:       deps.Bus,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	outliner, err := engine.NewAgent(engine.AgentConfig{
		Role:      "Book Outlining Agent",
		Goal:      "Develop an outline that captures {goal}, with a title and description for every chapter",
		Backstory: "You're an expert book planner. You distill research into a structure readers can follow.",
		Model:     deps.Model,
		Provider:  deps.Provider,
		Bus:       deps.Bus,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	research, err := engine.NewTask(engine.TaskConfig{
		Description:    "Research {topic}. Collect the main themes, notable developments and open questions a book pursuing this goal should cover: {goal}",
		ExpectedOutput: "A structured summary of the research findings.",
		Agent:          researcher,
		Bus:            deps.Bus,
	})
	if err != nil {
		return nil, err
	}

	outline, err := engine.NewTask(engine.TaskConfig{
		Description:    "Using the research, write the book outline. Respond with JSON only, in the form {\"chapters\": [{\"title\": ..., \"description\": ...}]}.",
		ExpectedOutput: "A JSON object with a chapters array of title/description pairs.",
		Agent:          outliner,
		Guardrail:      OutlineGuardrail,
		Bus:            deps.Bus,
	})
	if err != nil {
		return nil, err
	}

	return engine.NewCrew(engine.CrewConfig{
		Name:   "Outline Crew",
		Tasks:  []*engine.Task{research, outline},
		Bus:    deps.Bus,
		Logger: deps.Logger,
	})
}

// NewChapterCrew builds the crew that writes one chapter. The task
// description carries {chapter_title}, {chapter_description},
// {book_outline}, {topic} and {goal} placeholders filled at kickoff.
func NewChapterCrew(deps CrewDeps) (*engine.Crew, error) {
	writer, err := engine.NewAgent(engine.AgentConfig{
		Role:      "Chapter Writer",
		Goal:      "Write a polished, well-structured chapter that serves the book's goal: {goal}",
		Backstory: "You're a professional author who writes clear, engaging long-form prose in markdown.",
		Model:     deps.Model,
		Provider:  deps.Provider,
		Tools:     deps.Tools,
		Bus:       deps.Bus,
		Logger:    deps.Logger,
	})
	if err != nil {
		return nil, err
	}

	write, err := engine.NewTask(engine.TaskConfig{
		Description: "Write the chapter titled \"{chapter_title}\" for a book about {topic}.\n" +
			"Chapter description: {chapter_description}\n" +
			"Full book outline for context: {book_outline}\n" +
			"Write the chapter body in markdown. Do not repeat the chapter title as a heading.",
		ExpectedOutput: "The complete chapter text in markdown.",
		Agent:          writer,
		Guardrail:      ChapterGuardrail,
		Bus:            deps.Bus,
	})
	if err != nil {
		return nil, err
	}

	return engine.NewCrew(engine.CrewConfig{
		Name:   "Write Book Chapter Crew",
		Tasks:  []*engine.Task{write},
		Bus:    deps.Bus,
		Logger: deps.Logger,
	})
}
