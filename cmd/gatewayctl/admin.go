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
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit"
	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/shared/config"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Validate gateway configuration files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a gateway configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFile(args[0])
			if err != nil {
				return err
			}
			enabled := 0
			for _, p := range cfg.Providers {
				if p.Enabled {
					enabled++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: policy source %s, audit driver %s, %d of %d providers enabled\n",
				cfg.Policy.Source, cfg.Audit.Driver, enabled, len(cfg.Providers))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "example",
		Short: "Print a commented example configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprint(cmd.OutOrStdout(), config.ExampleFile)
			return err
		},
	})

	return cmd
}

func tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint an admin bearer token",
		Long: `Mint an HS256 admin token signed with ADMIN_JWT_SECRET.

Examples:
  ADMIN_JWT_SECRET=... gatewayctl token mint --subject ops@example.com --ttl 1h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv(config.EnvAdminJWTSecret)
			if secret == "" {
				return fmt.Errorf("%s environment variable is required", config.EnvAdminJWTSecret)
			}
			if subject == "" {
				return fmt.Errorf("--subject is required")
			}
			if ttl <= 0 {
				return fmt.Errorf("--ttl must be positive")
			}

			now := time.Now()
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
				"sub":  subject,
				"role": "admin",
				"iat":  now.Unix(),
				"exp":  now.Add(ttl).Unix(),
			})
			signed, err := token.SignedString([]byte(secret))
			if err != nil {
				return fmt.Errorf("signing token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	mint.Flags().StringVar(&subject, "subject", "", "operator identity recorded when closing oversight sessions")
	mint.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage admin tokens",
	}
	cmd.AddCommand(mint)
	return cmd
}

func oversightCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oversight",
		Short: "Review escalated requests",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <trace-id>",
		Short: "Show the oversight session of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			session, err := client.GetOversight(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, session)
		},
	})

	var closedBy, note string
	closeCmd := &cobra.Command{
		Use:   "close <trace-id>",
		Short: "Close an oversight session",
		Long: `Close an open oversight session after human review.

Examples:
  gatewayctl oversight close 0b7c... --note "reviewed, benign"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			session, err := client.CloseOversight(cmd.Context(), args[0], closedBy, note)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Closed oversight session %s (closed by %s)\n", session.TraceID, session.ClosedBy)
			return nil
		},
	}
	closeCmd.Flags().StringVar(&closedBy, "closed-by", "", "reviewer identity (default: token subject)")
	closeCmd.Flags().StringVar(&note, "note", "", "closing note")
	cmd.AddCommand(closeCmd)

	return cmd
}

func auditCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and verify audit events",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <trace-id>",
		Short: "Show the audit trail of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			trail, err := client.AuditTrail(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, trail)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify <file>",
		Short: "Verify the digests of exported audit events",
		Long: `Verify audit events exported as a JSON array, an audit trail object
({"events": [...]}) or a spool file with one record per line.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := readEvents(args[0])
			if err != nil {
				return err
			}
			bad := 0
			for _, e := range events {
				ok, err := audit.VerifyDigest(e)
				status := "ok"
				switch {
				case err != nil:
					status = "error: " + err.Error()
					bad++
				case !ok:
					status = "TAMPERED"
					bad++
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-16s %s %s\n", e.ID, e.EventType, e.TraceID, status)
			}
			if bad > 0 {
				return fmt.Errorf("%d of %d events failed verification", bad, len(events))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "All %d events verified\n", len(events))
			return nil
		},
	})

	return cmd
}

func readEvents(path string) ([]audit.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}

	var list []audit.Event
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var trail struct {
		Events []audit.Event `json:"events"`
	}
	if err := json.Unmarshal(data, &trail); err == nil && trail.Events != nil {
		return trail.Events, nil
	}

	records, err := audit.ReadSpoolFile(path)
	if err != nil {
		return nil, errors.New("file is neither a JSON event list, an audit trail nor a spool file")
	}
	for _, rec := range records {
		if rec.Event != nil {
			list = append(list, *rec.Event)
		}
	}
	return list, nil
}
