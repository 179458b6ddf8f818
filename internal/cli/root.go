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

// Package cli wires the bookflow command-line interface.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/bookflow/internal/config"
)

// Version information, injected via ldflags at build time.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// SetVersion sets the version information (called from main).
func SetVersion(v, c, b string) {
	version, commit, buildDate = v, c, b
}

type rootFlags struct {
	configPath string
	verbose    bool
}

// NewRootCommand creates the root Cobra command for bookflow.
func NewRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:   "bookflow",
		Short: "bookflow - write books with agent crews",
		Long: `Bookflow orchestrates LLM agent crews to write complete books.
An outline crew plans the chapters, writing crews draft them
concurrently, and the finished book lands as a markdown file.

Every run is traced end to end; use 'bookflow traces' to inspect
past runs.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bindFlagsFromEnv(cmd.Flags())
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to config file (default: ~/.config/bookflow/config.yaml)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose output")

	cmd.AddCommand(newKickoffCommand(flags))
	cmd.AddCommand(newTracesCommand(flags))
	cmd.AddCommand(newVersionCommand())

	return cmd
}

// Execute runs the CLI and exits with a non-zero status on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: ")+err.Error())
		os.Exit(1)
	}
}

// bindFlagsFromEnv fills flags that were not set on the command line
// from BOOKFLOW_<FLAG> environment variables, so runs can be configured
// without repeating flags (e.g. BOOKFLOW_OUTPUT for --output).
func bindFlagsFromEnv(flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || f.Changed {
			return
		}
		env := "BOOKFLOW_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if value, ok := os.LookupEnv(env); ok {
			if err := flags.Set(f.Name, value); err != nil {
				bindErr = fmt.Errorf("invalid value for %s: %w", env, err)
			}
		}
	})
	return bindErr
}

// loadConfig resolves the config path and loads the configuration.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	path := flags.configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return config.Load(path)
}
