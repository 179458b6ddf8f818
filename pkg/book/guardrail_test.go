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
	"strings"
	"testing"
)

func TestChapterGuardrail(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantErr bool
	}{
		{
			name:    "full chapter accepted",
			output:  strings.Repeat("The mill turned slowly in the morning wind. ", 20),
			wantErr: false,
		},
		{
			name:    "short fragment rejected",
			output:  "I cannot write this chapter.",
			wantErr: true,
		},
		{
			name:    "padding whitespace does not count",
			output:  "short" + strings.Repeat(" ", 400),
			wantErr: true,
		},
		{
			name:    "empty output rejected",
			output:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ChapterGuardrail(tt.output)
			if (err != nil) != tt.wantErr {
				t.Errorf("ChapterGuardrail() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
