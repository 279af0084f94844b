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
// Package main implements gatewayctl, the operator CLI for the LLM gateway.
//
// Offline commands (rules, evaluate, score, config, token, audit verify) work
// on local files. Remote commands talk to a running gateway:
//
//	GATEWAY_URL          gateway base URL (default http://localhost:8081)
//	GATEWAY_ADMIN_TOKEN  admin bearer token for remote commands
//	ADMIN_JWT_SECRET     signing secret for "token mint"
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/cmd/gatewayctl/internal/adminapi"
)

var version = "1.0.0"

type globalOptions struct {
	server string
	token  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "LLM gateway CLI tool",
		Long:          `gatewayctl validates gateway configuration and rule sets, and administers a running gateway.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("GATEWAY_URL", "http://localhost:8081"), "gateway base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("GATEWAY_ADMIN_TOKEN"), "admin bearer token")

	rootCmd.AddCommand(rulesCmd(opts))
	rootCmd.AddCommand(evaluateCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(oversightCmd(opts))
	rootCmd.AddCommand(auditCmd(opts))

	return rootCmd
}

// client returns an admin API client for remote commands.
func (o *globalOptions) client() (*adminapi.Client, error) {
	if o.token == "" {
		return nil, fmt.Errorf("an admin token is required (--token or GATEWAY_ADMIN_TOKEN)")
	}
	return adminapi.NewClient(o.server, o.token), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
