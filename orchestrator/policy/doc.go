// Copyright 2025 AxonFlow
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

/*
Package policy classifies a user prompt before any model is called.

The Engine holds an immutable, compiled rule set behind an atomic pointer.
Evaluation walks four stages in strict precedence:

	hard_refuse   -> REFUSE   (0.95)
	manipulation  -> REFUSE   (0.90)
	boundary      -> PUSHBACK (0.80)
	risk          -> weighted score; ESCALATE (0.85) above the escalate
	                 threshold, PUSHBACK (0.80) above the pushback threshold

Anything else is ALLOW with confidence 1.0.

Rule sets are YAML or JSON documents loaded from a file, Redis or a SQL
table. An invalid document is rejected as a whole and the previously active
set keeps serving; with nothing loaded the built-in defaults apply.

	engine := policy.NewEngine(policy.WithSource(policy.NewFileSource("rules.yaml")))
	if err := engine.Reload(ctx); err != nil {
		log.Printf("using built-in rules: %v", err)
	}
	decision := engine.Evaluate(policy.Request{Prompt: prompt, SafetyLevel: policy.SafetyStandard})
*/
package policy
