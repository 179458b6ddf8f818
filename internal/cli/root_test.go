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
	"testing"

	"github.com/spf13/pflag"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "bookflow" {
		t.Errorf("expected use 'bookflow', got %q", cmd.Use)
	}

	if cmd.Short == "" {
		t.Error("expected short description to be set")
	}

	if cmd.Long == "" {
		t.Error("expected long description to be set")
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.PersistentFlags().Lookup("config") == nil {
		t.Error("config flag not registered")
	}

	if cmd.PersistentFlags().Lookup("verbose") == nil {
		t.Error("verbose flag not registered")
	}
}

func TestSubcommandsRegistered(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"kickoff", "traces", "version"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("subcommand %q not registered", name)
		}
	}
}

func TestBindFlagsFromEnv(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("topic", "", "")
	flags.String("output-dir", "", "")
	flags.String("model", "from-flag", "")

	t.Setenv("BOOKFLOW_TOPIC", "historic mills")
	t.Setenv("BOOKFLOW_OUTPUT_DIR", "/tmp/books")
	t.Setenv("BOOKFLOW_MODEL", "from-env")

	if err := flags.Set("model", "from-flag"); err != nil {
		t.Fatal(err)
	}

	if err := bindFlagsFromEnv(flags); err != nil {
		t.Fatalf("bindFlagsFromEnv() error = %v", err)
	}

	if got, _ := flags.GetString("topic"); got != "historic mills" {
		t.Errorf("topic = %q", got)
	}
	if got, _ := flags.GetString("output-dir"); got != "/tmp/books" {
		t.Errorf("output-dir = %q", got)
	}
	// Flags set on the command line win over the environment.
	if got, _ := flags.GetString("model"); got != "from-flag" {
		t.Errorf("model = %q", got)
	}
}

func TestBindFlagsFromEnvRejectsBadValues(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Bool("verbose", false, "")

	t.Setenv("BOOKFLOW_VERBOSE", "not-a-bool")

	if err := bindFlagsFromEnv(flags); err == nil {
		t.Error("expected error for invalid bool value")
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-01")
	if version != "1.2.3" || commit != "abc123" || buildDate != "2026-01-01" {
		t.Errorf("version info = %q %q %q", version, commit, buildDate)
	}
}
