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

// Package cloudstorage fetches S3 objects consumed by export runs: record-ID
// override lists and per-record attachments.
package cloudstorage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/cardinalhq/tablerunner/internal/awsclient"
	"github.com/cardinalhq/tablerunner/internal/filestore"
)

var (
	downloadErrors metric.Int64Counter
	downloadCount  metric.Int64Counter
	downloadBytes  metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/cardinalhq/tablerunner/internal/cloudstorage")

	var err error
	downloadErrors, err = meter.Int64Counter(
		"tablerunner.s3.download.errors",
		metric.WithDescription("Number of S3 download errors"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.errors counter: %w", err))
	}

	downloadCount, err = meter.Int64Counter(
		"tablerunner.s3.download.count",
		metric.WithDescription("Number of S3 downloads"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.count counter: %w", err))
	}

	downloadBytes, err = meter.Int64Counter(
		"tablerunner.s3.download.bytes",
		metric.WithDescription("Bytes downloaded from S3"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create download.bytes counter: %w", err))
	}
}

// ErrObjectNotFound is returned when the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

func s3ErrorIs404(err error) bool {
	var noKeyErr *types.NoSuchKey
	return errors.As(err, &noKeyErr)
}

// Fetcher streams S3 objects.
type Fetcher struct {
	s3client *awsclient.S3Client
}

func NewFetcher(s3client *awsclient.S3Client) *Fetcher {
	return &Fetcher{s3client: s3client}
}

// Fetch returns the object body. The caller closes it.
func (f *Fetcher) Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	ctx, span := f.s3client.Tracer.Start(ctx, "cloudstorage.Fetch",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	out, err := f.s3client.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		reason := "unknown"
		if s3ErrorIs404(err) {
			reason = "not_found"
			err = fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrObjectNotFound)
		} else {
			err = fmt.Errorf("get s3://%s/%s: %w", bucket, key, err)
		}
		downloadErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("reason", reason),
		))
		return nil, err
	}

	downloadCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", bucket),
	))
	if out.ContentLength != nil {
		downloadBytes.Add(ctx, *out.ContentLength, metric.WithAttributes(
			attribute.String("bucket", bucket),
		))
	}
	return out.Body, nil
}

// DownloadToWorkspace downloads the object into a temp file in the workspace
// and returns its path.
func (f *Fetcher) DownloadToWorkspace(ctx context.Context, ws *filestore.Workspace, bucket, key string) (string, error) {
	ctx, span := f.s3client.Tracer.Start(ctx, "cloudstorage.DownloadToWorkspace",
		trace.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("key", key),
		),
	)
	defer span.End()

	file, err := ws.TempFile("*-" + filepath.Base(key))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = file.Close() }()

	downloader := manager.NewDownloader(f.s3client.Client)
	size, err := downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		_ = ws.Remove(file.Name())
		reason := "unknown"
		if s3ErrorIs404(err) {
			reason = "not_found"
			err = fmt.Errorf("s3://%s/%s: %w", bucket, key, ErrObjectNotFound)
		} else {
			err = fmt.Errorf("download s3://%s/%s: %w", bucket, key, err)
		}
		downloadErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("bucket", bucket),
			attribute.String("reason", reason),
		))
		return "", err
	}

	downloadCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("bucket", bucket),
	))
	downloadBytes.Add(ctx, size, metric.WithAttributes(
		attribute.String("bucket", bucket),
	))
	return file.Name(), nil
}
