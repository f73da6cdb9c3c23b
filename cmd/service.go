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
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/tablerunner/config"
	"github.com/cardinalhq/tablerunner/internal/awsclient"
	"github.com/cardinalhq/tablerunner/internal/cloudstorage"
	"github.com/cardinalhq/tablerunner/internal/exporter"
	"github.com/cardinalhq/tablerunner/internal/filestore"
	"github.com/cardinalhq/tablerunner/internal/metrics"
	"github.com/cardinalhq/tablerunner/internal/records"
	"github.com/cardinalhq/tablerunner/internal/schemaregistry"
	"github.com/cardinalhq/tablerunner/internal/tableapi"
)

// runner wires the export pipeline to its AWS and REST collaborators.
type runner struct {
	cfg         *config.Config
	awsMgr      *awsclient.Manager
	recordStore *records.DynamoStore
	fetcher     *cloudstorage.Fetcher
	registry    *schemaregistry.CachedRegistry
	studies     *schemaregistry.CachedStudyStore
	api         tableapi.Client
	processor   *exporter.Processor
}

func newRunner(ctx context.Context, cfg *config.Config) (*runner, error) {
	awsMgr, err := awsclient.NewManager(ctx, awsclient.WithAssumeRoleSessionName("tablerunner"))
	if err != nil {
		return nil, fmt.Errorf("create AWS manager: %w", err)
	}

	ddbOpts := []awsclient.DynamoDBOption{
		awsclient.WithDynamoDBRegion(cfg.AWS.Region),
		awsclient.WithDynamoDBRole(cfg.AWS.RoleARN),
	}
	if cfg.Registry.Endpoint != "" {
		ddbOpts = append(ddbOpts, awsclient.WithDynamoDBEndpoint(cfg.Registry.Endpoint))
	}
	ddb, err := awsMgr.GetDynamoDB(ctx, ddbOpts...)
	if err != nil {
		return nil, fmt.Errorf("create DynamoDB client: %w", err)
	}

	s3c, err := awsMgr.GetS3(ctx,
		awsclient.WithRegion(cfg.AWS.Region),
		awsclient.WithRole(cfg.AWS.RoleARN),
	)
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Exporter.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("load time zone %q: %w", cfg.Exporter.TimeZone, err)
	}

	r := &runner{
		cfg:         cfg,
		awsMgr:      awsMgr,
		recordStore: records.NewDynamoStore(ddb.Client, cfg.Registry.RecordTable),
		fetcher:     cloudstorage.NewFetcher(s3c),
		registry:    schemaregistry.NewCachedRegistry(schemaregistry.NewDynamoRegistry(ddb.Client, cfg.Registry.TableIDTable)),
		studies:     schemaregistry.NewCachedStudyStore(schemaregistry.NewDynamoStudyStore(ddb.Client, cfg.Registry.StudyTable)),
		api:         tableapi.NewRESTClient(cfg.TableAPI.Endpoint, cfg.TableAPI.APIKey),
	}
	r.processor = &exporter.Processor{
		Store:           r.recordStore,
		API:             r.api,
		Files:           filestore.New(),
		Publisher:       metrics.NewOtelPublisher(),
		TimeLoc:         loc,
		Workers:         cfg.Exporter.Workers,
		ProgressPeriod:  cfg.Exporter.ProgressPeriod,
		RecordLoopDelay: cfg.Exporter.RecordLoopDelay,
		NewManager:      r.managerFor,
	}
	return r, nil
}

func (r *runner) managerFor(req exporter.Request) *exporter.Manager {
	prefix := r.cfg.Registry.Prefix
	opts := []exporter.ManagerOption{
		exporter.WithTableWhitelist(req.TableWhitelist),
		exporter.WithAttachmentSource(r.fetcher, r.cfg.Attachments.Bucket),
	}
	if req.RegistryPrefixOverride != "" {
		prefix = req.RegistryPrefixOverride
		opts = append(opts, exporter.WithProjectOverrides(req.ProjectOverrides))
	}
	opts = append(opts, exporter.WithRegistryPrefix(prefix))

	env := &exporter.Env{
		Registry:    r.registry,
		API:         r.api,
		PrincipalID: r.cfg.TableAPI.PrincipalID,
	}
	return exporter.NewManager(env, r.studies, opts...)
}

func (r *runner) sourceFor(req exporter.Request) records.IDSource {
	switch {
	case req.Date != "":
		return &records.UploadDateSource{Querier: r.recordStore, Date: req.Date}
	case req.StartDateTime != nil && req.EndDateTime != nil:
		return &records.StudyRangeSource{
			Querier: r.recordStore,
			Studies: req.StudyWhitelist,
			Start:   *req.StartDateTime,
			End:     *req.EndDateTime,
		}
	default:
		return &records.S3OverrideSource{
			Downloader: r.fetcher,
			Files:      r.processor.Files,
			Bucket:     r.cfg.Attachments.Bucket,
			Key:        req.RecordIDS3Override,
		}
	}
}

// Run executes one export run end to end.
func (r *runner) Run(ctx context.Context, req exporter.Request) error {
	start := time.Now()
	err := r.processor.ProcessRun(ctx, req, r.sourceFor(req))
	runDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributeSet(commonAttributes))
	return err
}

func (r *runner) Stop() {
	r.registry.Stop()
	r.studies.Stop()
}
