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

package tracing

import (
	"context"
	"regexp"

	"github.com/google/uuid"
)

// CorrelationID ties together log lines, spans and HTTP requests that
// belong to one flow execution.
type CorrelationID string

// HeaderCorrelationID is the HTTP header used to propagate the
// correlation ID on outbound requests.
const HeaderCorrelationID = "X-Correlation-ID"

type correlationKey struct{}

var correlationIDPattern = regexp.MustCompile(
	`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// NewCorrelationID returns a fresh random correlation ID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// String returns the ID as a plain string.
func (c CorrelationID) String() string { return string(c) }

// IsValid reports whether the ID is a well-formed UUID.
func (c CorrelationID) IsValid() bool {
	return correlationIDPattern.MatchString(string(c))
}

// WithCorrelation attaches the ID to the context.
func WithCorrelation(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// FromContext extracts the correlation ID, reporting whether one was set.
func FromContext(ctx context.Context) (CorrelationID, bool) {
	id, ok := ctx.Value(correlationKey{}).(CorrelationID)
	return id, ok
}

// FromContextOrEmpty extracts the correlation ID or returns the empty
// string when none is set.
func FromContextOrEmpty(ctx context.Context) CorrelationID {
	id, _ := FromContext(ctx)
	return id
}

// EnsureCorrelation returns the context unchanged when it already
// carries an ID, otherwise attaches a fresh one.
func EnsureCorrelation(ctx context.Context) (context.Context, CorrelationID) {
	if id, ok := FromContext(ctx); ok {
		return ctx, id
	}
	id := NewCorrelationID()
	return WithCorrelation(ctx, id), id
}
