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
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/cardinalhq/tablerunner/config"
	"github.com/cardinalhq/tablerunner/internal/awsclient"
	"github.com/cardinalhq/tablerunner/internal/healthcheck"
	"github.com/cardinalhq/tablerunner/internal/logctx"
	"github.com/cardinalhq/tablerunner/internal/queue"
)

func init() {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume export requests from the queue",
		RunE: func(_ *cobra.Command, _ []string) error {
			servicename := "tablerunner-worker"
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
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

			healthServer := healthcheck.NewServer(cfg.HealthPort)
			go func() {
				if err := healthServer.Start(ctx); err != nil {
					slog.Error("Health check server stopped", slog.Any("error", err))
				}
			}()
			healthServer.SetStatus(healthcheck.StatusHealthy)

			runner, err := newRunner(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to wire export runner: %w", err)
			}
			defer runner.Stop()

			sqsClient, err := runner.awsMgr.GetSQS(ctx,
				awsclient.WithSQSRegion(cfg.AWS.Region),
				awsclient.WithSQSRole(cfg.AWS.RoleARN),
			)
			if err != nil {
				return fmt.Errorf("failed to create SQS client: %w", err)
			}

			healthServer.SetReady(true)
			defer healthServer.SetReady(false)

			consumer := queue.NewConsumer(sqsClient.Client, cfg.Queue.URL, runner.Run)
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	rootCmd.AddCommand(cmd)
}
