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

package policy

import (
	_ "embed"
	"fmt"
)

//go:embed defaults.yaml
var defaultRuleSetYAML []byte

// DefaultRuleSet returns a fresh copy of the built-in rule set.
func DefaultRuleSet() *RuleSet {
	rs, err := ParseRuleSet(defaultRuleSetYAML)
	if err != nil {
		panic(fmt.Sprintf("policy: built-in rule set is invalid: %v", err))
	}
	return rs
}

// DefaultRuleSetYAML returns the built-in document, e.g. for "gatewayctl rules show".
func DefaultRuleSetYAML() []byte {
	out := make([]byte, len(defaultRuleSetYAML))
	copy(out, defaultRuleSetYAML)
	return out
}

func mustCompileDefaults() *compiledSet {
	cs, err := compile(DefaultRuleSet(), OriginBuiltin)
	if err != nil {
		panic(fmt.Sprintf("policy: built-in rule set does not compile: %v", err))
	}
	return cs
}
