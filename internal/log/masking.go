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

package log

import (
	"context"
	"log/slog"

	"github.com/tombee/bookflow/pkg/secrets"
)

// MaskingHandler wraps a slog.Handler and masks registered credential
// values in messages and string attributes before they are written.
type MaskingHandler struct {
	inner  slog.Handler
	masker *secrets.Masker
}

// NewMaskingHandler wraps inner so records pass through the masker.
func NewMaskingHandler(inner slog.Handler, masker *secrets.Masker) *MaskingHandler {
	return &MaskingHandler{inner: inner, masker: masker}
}

// Enabled reports whether the inner handler handles records at the level.
func (h *MaskingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle masks the record's message and string attribute values.
func (h *MaskingHandler) Handle(ctx context.Context, record slog.Record) error {
	masked := slog.NewRecord(record.Time, record.Level, h.masker.Mask(record.Message), record.PC)
	record.Attrs(func(a slog.Attr) bool {
		masked.AddAttrs(h.maskAttr(a))
		return true
	})
	return h.inner.Handle(ctx, masked)
}

// WithAttrs masks the attrs before forwarding them to the inner handler.
func (h *MaskingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	maskedAttrs := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		maskedAttrs[i] = h.maskAttr(a)
	}
	return &MaskingHandler{inner: h.inner.WithAttrs(maskedAttrs), masker: h.masker}
}

// WithGroup forwards the group to the inner handler.
func (h *MaskingHandler) WithGroup(name string) slog.Handler {
	return &MaskingHandler{inner: h.inner.WithGroup(name), masker: h.masker}
}

func (h *MaskingHandler) maskAttr(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.masker.Mask(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		maskedGroup := make([]any, 0, len(group))
		for _, ga := range group {
			maskedGroup = append(maskedGroup, h.maskAttr(ga))
		}
		return slog.Group(a.Key, maskedGroup...)
	default:
		return a
	}
}
