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

package llm

import (
	"regexp"
	"strings"
)

// CoachingInstructions is the persona every adapter sends as its system prompt.
const CoachingInstructions = `You are a supportive personal-growth coach. Give practical, kind and ` +
	`concrete guidance. Do not provide medical, legal or financial diagnoses; suggest a qualified ` +
	`professional instead. If the user appears to be in crisis, encourage them to contact local ` +
	`emergency services or a crisis line.`

const maxContextTagLen = 500

var personalityTypePattern = regexp.MustCompile(`^[EI][SN][TF][JP](-[AT])?$`)

// BuildSystemPrompt assembles the coaching persona with the caller's
// personality type and context tag. Unrecognized personality types are
// dropped rather than echoed into the prompt.
func BuildSystemPrompt(opts GenerateOptions) string {
	var b strings.Builder
	b.WriteString(CoachingInstructions)

	if pt := strings.ToUpper(strings.TrimSpace(opts.PersonalityType)); personalityTypePattern.MatchString(pt) {
		b.WriteString("\n\nThe user identifies with the ")
		b.WriteString(pt)
		b.WriteString(" personality type. Adapt tone and suggestions to that preference without stereotyping.")
	}

	if tag := strings.TrimSpace(opts.ContextTag); tag != "" {
		if r := []rune(tag); len(r) > maxContextTagLen {
			tag = string(r[:maxContextTagLen])
		}
		b.WriteString("\n\nContext from the application: ")
		b.WriteString(tag)
	}

	return b.String()
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
