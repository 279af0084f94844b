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
	"sort"
)

// Selection weights and normalization constants.
const (
	QualityWeight = 0.4
	LatencyWeight = 0.3
	CostWeight    = 0.3

	// LatencyCeilingMs is the latency at which the latency term reaches zero.
	LatencyCeilingMs = 5000.0

	// CostScale maps cost per token onto [0,1]; 0.0001 per token scores zero.
	CostScale = 10000.0
)

// ScoredProvider explains one provider's composite selection score.
type ScoredProvider struct {
	Descriptor  ProviderDescriptor `json:"-"`
	ProviderID  string             `json:"provider_id"`
	QualityTerm float64            `json:"quality_term"`
	LatencyTerm float64            `json:"latency_term"`
	CostTerm    float64            `json:"cost_term"`
	Score       float64            `json:"score"`
}

// Score computes
//
//	0.4*quality + 0.3*clamp(1 - latency/5000) + 0.3*clamp(1 - cost*10000)
//
// with every term clamped to [0,1] before weighting.
func Score(d ProviderDescriptor) ScoredProvider {
	q := clamp01(d.QualityScore)
	l := clamp01(1 - d.LatencyMs/LatencyCeilingMs)
	c := clamp01(1 - d.CostPerToken*CostScale)
	return ScoredProvider{
		Descriptor:  d,
		ProviderID:  d.ID,
		QualityTerm: q,
		LatencyTerm: l,
		CostTerm:    c,
		Score:       QualityWeight*q + LatencyWeight*l + CostWeight*c,
	}
}

// Rank scores every provider and orders them best first. Equal scores keep
// registration order.
func Rank(providers []ProviderDescriptor) []ScoredProvider {
	ranked := make([]ScoredProvider, 0, len(providers))
	for _, d := range providers {
		ranked = append(ranked, Score(d))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Descriptor.RegistrationOrder < ranked[j].Descriptor.RegistrationOrder
	})
	return ranked
}

// Select picks a provider from the healthy set. A preferred id present in
// the set wins outright; otherwise the best composite score wins.
func Select(healthy []ProviderDescriptor, preferred string) (ProviderDescriptor, error) {
	if len(healthy) == 0 {
		return ProviderDescriptor{}, &NoHealthyProviderError{}
	}
	if preferred != "" {
		for _, d := range healthy {
			if d.ID == preferred {
				return d, nil
			}
		}
	}
	return Rank(healthy)[0].Descriptor, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
