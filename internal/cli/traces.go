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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/bookflow/internal/tracing/storage"
	"github.com/tombee/bookflow/pkg/observability"
)

func newTracesCommand(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "traces",
		Short: "Inspect stored traces of past runs",
	}

	cmd.AddCommand(newTracesListCommand(root))
	cmd.AddCommand(newTracesShowCommand(root))

	return cmd
}

func newTracesListCommand(root *rootFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored traces, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTraceStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			traces, err := store.ListTraces(cmd.Context(), storage.TraceFilter{Limit: limit})
			if err != nil {
				return err
			}
			if len(traces) == 0 {
				fmt.Println(dimStyle.Render("No traces stored yet."))
				return nil
			}

			fmt.Println(headerStyle.Render(fmt.Sprintf("%-32s  %-30s  %-19s  %8s  %6s  %s",
				"TRACE", "NAME", "STARTED", "DURATION", "SPANS", "STATUS")))
			for _, tr := range traces {
				fmt.Printf("%-32s  %-30s  %-19s  %8s  %6d  %s\n",
					tr.TraceID,
					truncate(tr.Name, 30),
					tr.StartTime.Format("2006-01-02 15:04:05"),
					tr.Duration.Round(10*time.Millisecond).String(),
					tr.SpanCount,
					renderStatus(tr.Status, tr.ErrorCount),
				)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of traces to list")
	return cmd
}

func newTracesShowCommand(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show the span tree of one trace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openTraceStore(root)
			if err != nil {
				return err
			}
			defer store.Close()

			spans, err := store.GetTraceSpans(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(spans) == 0 {
				return fmt.Errorf("trace %s has no spans", args[0])
			}

			printSpanTree(spans)
			return nil
		},
	}
}

// openTraceStore opens the configured trace database read-side.
func openTraceStore(root *rootFlags) (*storage.SQLiteStore, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, err
	}
	if cfg.Tracing.Storage.Path == "" {
		return nil, fmt.Errorf("no trace database configured: set tracing.storage.path or BOOKFLOW_TRACE_DB")
	}
	return storage.New(storage.Config{
		Path:             cfg.Tracing.Storage.Path,
		EnableEncryption: cfg.Tracing.Storage.Encrypt,
	})
}

// printSpanTree renders spans indented by parent relationship, in start
// order within each level.
func printSpanTree(spans []*observability.Span) {
	children := make(map[string][]*observability.Span)
	byID := make(map[string]bool, len(spans))
	for _, s := range spans {
		byID[s.SpanID] = true
	}

	var roots []*observability.Span
	for _, s := range spans {
		if s.ParentID == "" || !byID[s.ParentID] {
			roots = append(roots, s)
			continue
		}
		children[s.ParentID] = append(children[s.ParentID], s)
	}

	sortByStart := func(list []*observability.Span) {
		sort.Slice(list, func(i, j int) bool {
			return list[i].StartTime.Before(list[j].StartTime)
		})
	}
	sortByStart(roots)
	for _, kids := range children {
		sortByStart(kids)
	}

	var walk func(s *observability.Span, depth int)
	walk = func(s *observability.Span, depth int) {
		indent := strings.Repeat("  ", depth)
		fmt.Printf("%s%s %s %s\n",
			indent,
			s.Name,
			dimStyle.Render(s.Duration().String()),
			renderStatus(s.Status.Code, 0),
		)
		for _, kid := range children[s.SpanID] {
			walk(kid, depth+1)
		}
	}
	for _, r := range roots {
		walk(r, 0)
	}
}

func renderStatus(code observability.StatusCode, errorCount int) string {
	switch {
	case code == observability.StatusCodeError || errorCount > 0:
		return errorStyle.Render("error")
	case code == observability.StatusCodeOK:
		return successStyle.Render("ok")
	default:
		return dimStyle.Render("unset")
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
