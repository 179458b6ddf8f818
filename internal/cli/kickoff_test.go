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
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/tombee/bookflow/internal/tracing"
)

func TestCorrelateRunAttachesID(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	ctx, logger := correlateRun(context.Background(), logger)

	id := tracing.FromContextOrEmpty(ctx)
	if !id.IsValid() {
		t.Fatalf("context carries no valid correlation ID, got %q", id)
	}

	logger.Info("run started")
	if !strings.Contains(buf.String(), "correlation_id="+string(id)) {
		t.Errorf("log line missing correlation ID: %s", buf.String())
	}
}

func TestCorrelateRunKeepsExistingID(t *testing.T) {
	id := tracing.NewCorrelationID()
	ctx := tracing.WithCorrelation(context.Background(), id)

	ctx, _ = correlateRun(ctx, slog.Default())

	if got := tracing.FromContextOrEmpty(ctx); got != id {
		t.Errorf("correlation ID = %q, want existing %q", got, id)
	}
}
