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
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/llm"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/policy"
)

func rulesCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and validate policy rule sets",
	}

	cmd.AddCommand(rulesValidateCmd())
	cmd.AddCommand(rulesDefaultsCmd())
	cmd.AddCommand(rulesInfoCmd(opts))
	cmd.AddCommand(rulesReloadCmd(opts))

	return cmd
}

func rulesValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a YAML or JSON rule set",
		Long: `Validate a rule set document exactly as the gateway would load it.

Examples:
  gatewayctl rules validate rules.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rs, err := loadRuleSet(args[0])
			if err != nil {
				return err
			}
			engine := newEngine()
			if err := engine.Apply(rs, "file:"+args[0]); err != nil {
				return err
			}
			info := engine.Info()
			fmt.Fprintf(cmd.OutOrStdout(), "OK: rule set %s with %d rules\n", info.Version, info.Rules)
			for _, stage := range []policy.Stage{policy.StageHardRefuse, policy.StageManipulation, policy.StageBoundary, policy.StageRisk} {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-13s %d\n", stage, info.StageCounts[stage])
			}
			return nil
		},
	}
}

func rulesDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "defaults",
		Short: "Print the built-in rule set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(policy.DefaultRuleSetYAML())
			return err
		},
	}
}

func rulesInfoCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show the rule set active on the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			info, err := client.PolicyInfo(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		},
	}
}

func rulesReloadCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Make the gateway re-read its rule source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			info, err := client.ReloadPolicies(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reloaded: rule set %s from %s\n", info.Version, info.Origin)
			return nil
		},
	}
}

func evaluateCmd() *cobra.Command {
	var rulesPath string
	var safetyLevel string

	cmd := &cobra.Command{
		Use:   "evaluate <prompt>",
		Short: "Evaluate a prompt against a rule set",
		Long: `Evaluate a prompt offline and print the policy decision.

Examples:
  gatewayctl evaluate "How do I bypass the admin login?"
  gatewayctl evaluate --rules rules.yaml --safety-level high "my root password habit"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine := newEngine()
			if rulesPath != "" {
				rs, err := loadRuleSet(rulesPath)
				if err != nil {
					return err
				}
				if err := engine.Apply(rs, "file:"+rulesPath); err != nil {
					return err
				}
			}

			level := policy.SafetyLevel(strings.ToLower(safetyLevel))
			if !level.Valid() {
				return fmt.Errorf("invalid safety level %q", safetyLevel)
			}

			decision := engine.Evaluate(policy.Request{
				Prompt:      strings.Join(args, " "),
				SafetyLevel: level,
			})
			return printJSON(cmd, decision)
		},
	}

	cmd.Flags().StringVar(&rulesPath, "rules", "", "rule set file (default: built-in rules)")
	cmd.Flags().StringVar(&safetyLevel, "safety-level", "", "low, medium, standard, high or maximum")

	return cmd
}

func scoreCmd() *cobra.Command {
	var quality, latency, cost float64

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Compute a provider selection score",
		Long: `Compute the selection score the gateway assigns to a provider.

Examples:
  gatewayctl score --quality 0.9 --latency 800 --cost 0.00003`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sp := llm.Score(llm.ProviderDescriptor{
				ID:           "candidate",
				QualityScore: quality,
				LatencyMs:    latency,
				CostPerToken: cost,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "score %.4f (quality term %.4f, latency term %.4f, cost term %.4f)\n",
				sp.Score, sp.QualityTerm, sp.LatencyTerm, sp.CostTerm)
			return nil
		},
	}

	cmd.Flags().Float64Var(&quality, "quality", 0, "quality score in [0,1]")
	cmd.Flags().Float64Var(&latency, "latency", 0, "observed latency in milliseconds")
	cmd.Flags().Float64Var(&cost, "cost", 0, "cost per token")

	return cmd
}

// newEngine returns an engine whose reload logging stays off stdout.
func newEngine() *policy.Engine {
	return policy.NewEngine(policy.WithLogger(log.New(io.Discard, "", 0)))
}

func loadRuleSet(path string) (*policy.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule set: %w", err)
	}
	return policy.ParseRuleSet(data)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
