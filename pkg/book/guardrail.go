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
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// chapterPredicate is the acceptance rule for written chapters. A
// chapter under 300 characters is a refusal or a fragment, not prose.
const chapterPredicate = `len(trim(output)) >= 300`

var chapterProgram = mustCompilePredicate(chapterPredicate)

func mustCompilePredicate(src string) *vm.Program {
	p, err := expr.Compile(src, expr.Env(map[string]any{"output": ""}), expr.AsBool())
	if err != nil {
		panic(fmt.Sprintf("bad guardrail predicate %q: %v", src, err))
	}
	return p
}

// ChapterGuardrail rejects chapter output that fails the acceptance
// predicate, prompting the writing agent to try again.
func ChapterGuardrail(output string) error {
	ok, err := expr.Run(chapterProgram, map[string]any{"output": output})
	if err != nil {
		return fmt.Errorf("guardrail evaluation failed: %w", err)
	}
	if accepted, _ := ok.(bool); !accepted {
		return fmt.Errorf("chapter is too short to be a real draft")
	}
	return nil
}
