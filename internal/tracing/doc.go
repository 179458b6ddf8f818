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

// Package tracing instruments the bookflow engine with OpenTelemetry spans.
//
// Two cooperating subsystems reconstruct a span hierarchy from an engine
// that has no native tracing context:
//
//   - The Listener subscribes to the engine's event bus and turns each
//     lifecycle event into a short span parented to the active flow root,
//     which the RootTracker establishes on flow start and tears down on
//     flow finish.
//
//   - The traced wrappers (TracedFlow, TracedCrew, TracedTool,
//     TracedProvider) decorate engine entry points so that calling them
//     opens a span around the real call, following the call for its full
//     duration including asynchronous continuations.
//
// The Instrumentor installs both subsystems idempotently: it reuses an
// ambient SDK tracer provider when one is registered, builds one from
// configuration otherwise, and registers listener callbacks at most once
// per instance. Instrumentation is best-effort by design: a failure to
// build an exporter degrades tracing, never the pipeline.
//
// The tracker holds at most one active flow root per Instrumentor
// instance. Running multiple flows concurrently in one process requires
// one Instrumentor (and one bus) per flow.
package tracing
