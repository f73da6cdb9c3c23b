// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/tablerunner/config"
	"github.com/cardinalhq/tablerunner/internal/exporter"
	"github.com/cardinalhq/tablerunner/internal/logctx"
)

func init() {
	var (
		requestFile string
		date        string
		start       string
		end         string
		s3Override  string
		tag         string
		sharingMode string
		studies     []string
		tables      []string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run a single export and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "tablerunner-export"
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			req, err := buildRequest(requestFile, date, start, end, s3Override, tag, sharingMode, studies, tables)
			if err != nil {
				return err
			}

			doneCtx, doneFx, err := setupTelemetry(servicename, nil)
			if err != nil {
				return fmt.Errorf("failed to setup telemetry: %w", err)
			}
			defer func() {
				if err := doneFx(); err != nil {
					slog.Error("Error shutting down telemetry", slog.Any("error", err))
				}
			}()

			ctx := logctx.WithLogger(doneCtx, slog.Default())

			runner, err := newRunner(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to wire export runner: %w", err)
			}
			defer runner.Stop()

			return runner.Run(ctx, req)
		},
	}

	cmd.Flags().StringVar(&requestFile, "request-file", "", "path to a JSON export request payload")
	cmd.Flags().StringVar(&date, "date", "", "export all records uploaded on this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&start, "start", "", "range start, RFC 3339 (requires --end and --study)")
	cmd.Flags().StringVar(&end, "end", "", "range end, RFC 3339")
	cmd.Flags().StringVar(&s3Override, "record-id-s3-override", "", "S3 key of a newline-delimited record ID list")
	cmd.Flags().StringVar(&tag, "tag", "", "tag to distinguish this run in logs and metrics")
	cmd.Flags().StringVar(&sharingMode, "sharing-mode", "", "sharing mode filter (all, shared, public_only)")
	cmd.Flags().StringSliceVar(&studies, "study", nil, "restrict the run to these study IDs")
	cmd.Flags().StringSliceVar(&tables, "table", nil, "restrict the run to these table kinds")

	rootCmd.AddCommand(cmd)
}

// buildRequest assembles the export request from --request-file, then lets
// individual flags override fields from the file.
func buildRequest(requestFile, date, start, end, s3Override, tag, sharingMode string, studies, tables []string) (exporter.Request, error) {
	var req exporter.Request
	if requestFile != "" {
		payload, err := os.ReadFile(requestFile)
		if err != nil {
			return req, fmt.Errorf("read request file: %w", err)
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return req, fmt.Errorf("parse request file: %w", err)
		}
	}

	if date != "" {
		req.Date = date
	}
	if start != "" {
		t, err := time.Parse(time.RFC3339, start)
		if err != nil {
			return req, fmt.Errorf("parse --start: %w", err)
		}
		req.StartDateTime = &t
	}
	if end != "" {
		t, err := time.Parse(time.RFC3339, end)
		if err != nil {
			return req, fmt.Errorf("parse --end: %w", err)
		}
		req.EndDateTime = &t
	}
	if s3Override != "" {
		req.RecordIDS3Override = s3Override
	}
	if tag != "" {
		req.Tag = tag
	}
	if sharingMode != "" {
		req.SharingMode = exporter.SharingMode(sharingMode)
	}
	if len(studies) > 0 {
		req.StudyWhitelist = studies
	}
	if len(tables) > 0 {
		req.TableWhitelist = tables
	}

	if err := req.Validate(); err != nil {
		return req, fmt.Errorf("invalid export request: %w", err)
	}
	return req, nil
}
