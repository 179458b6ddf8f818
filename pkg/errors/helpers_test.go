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

package errors_test

import (
	"testing"

	bferrors "github.com/tombee/bookflow/pkg/errors"
)

func TestWrap(t *testing.T) {
	t.Run("adds context", func(t *testing.T) {
		original := bferrors.New("file missing")
		wrapped := bferrors.Wrap(original, "loading outline")

		if wrapped.Error() != "loading outline: file missing" {
			t.Errorf("Wrap() = %q", wrapped.Error())
		}
		if !bferrors.Is(wrapped, original) {
			t.Error("wrapped error should match original via Is")
		}
	})

	t.Run("nil passes through", func(t *testing.T) {
		if bferrors.Wrap(nil, "context") != nil {
			t.Error("Wrap(nil) should return nil")
		}
	})
}

func TestWrapf(t *testing.T) {
	t.Run("formats context", func(t *testing.T) {
		original := bferrors.New("permission denied")
		wrapped := bferrors.Wrapf(original, "writing chapter %d", 3)

		if wrapped.Error() != "writing chapter 3: permission denied" {
			t.Errorf("Wrapf() = %q", wrapped.Error())
		}
	})

	t.Run("nil passes through", func(t *testing.T) {
		if bferrors.Wrapf(nil, "writing chapter %d", 3) != nil {
			t.Error("Wrapf(nil) should return nil")
		}
	})
}

func TestAsFindsTypedError(t *testing.T) {
	original := &bferrors.GuardrailError{Task: "outline", Reason: "empty"}
	wrapped := bferrors.Wrap(original, "running crew")

	var target *bferrors.GuardrailError
	if !bferrors.As(wrapped, &target) {
		t.Fatal("As should match through wrapping")
	}
	if target.Task != "outline" {
		t.Errorf("Task = %q", target.Task)
	}
}

func TestUnwrap(t *testing.T) {
	original := bferrors.New("root cause")
	wrapped := bferrors.Wrap(original, "wrapper")

	if bferrors.Unwrap(wrapped) != original {
		t.Error("Unwrap should return the original error")
	}
	if bferrors.Unwrap(original) != nil {
		t.Error("Unwrap of a leaf error should return nil")
	}
}
