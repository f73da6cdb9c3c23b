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

package records

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cardinalhq/tablerunner/internal/filestore"
)

// DateQuerier looks up record IDs by upload date.
type DateQuerier interface {
	IDsForUploadDate(ctx context.Context, date string) ([]string, error)
}

// RangeQuerier looks up a study's record IDs by upload time range.
type RangeQuerier interface {
	IDsForStudyRange(ctx context.Context, studyID string, startMillis, endMillis int64) ([]string, error)
}

// ObjectFetcher fetches an object from blob storage. The caller closes the
// returned reader.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// WorkspaceDownloader stages an object into a workspace file and returns the
// staged path.
type WorkspaceDownloader interface {
	DownloadToWorkspace(ctx context.Context, ws *filestore.Workspace, bucket, key string) (string, error)
}

// UploadDateSource yields the IDs of every record uploaded on one calendar
// date.
type UploadDateSource struct {
	Querier DateQuerier
	Date    string
}

var _ IDSource = (*UploadDateSource)(nil)

func (s *UploadDateSource) RecordIDs(ctx context.Context) ([]string, error) {
	return s.Querier.IDsForUploadDate(ctx, s.Date)
}

// StudyRangeSource yields the IDs of the whitelisted studies' records uploaded
// within [Start, End], one study query at a time.
type StudyRangeSource struct {
	Querier RangeQuerier
	Studies []string
	Start   time.Time
	End     time.Time
}

var _ IDSource = (*StudyRangeSource)(nil)

func (s *StudyRangeSource) RecordIDs(ctx context.Context) ([]string, error) {
	var ids []string
	for _, study := range s.Studies {
		studyIDs, err := s.Querier.IDsForStudyRange(ctx, study, s.Start.UnixMilli(), s.End.UnixMilli())
		if err != nil {
			return nil, fmt.Errorf("record ids for study %s: %w", study, err)
		}
		ids = append(ids, studyIDs...)
	}
	return ids, nil
}

// S3OverrideSource yields the record IDs listed in an S3 object, one ID per
// line. The list is staged into a scratch workspace first; override lists can
// run to millions of IDs.
type S3OverrideSource struct {
	Downloader WorkspaceDownloader
	Files      *filestore.Store
	Bucket     string
	Key        string
}

var _ IDSource = (*S3OverrideSource)(nil)

func (s *S3OverrideSource) RecordIDs(ctx context.Context) ([]string, error) {
	ws, err := s.Files.NewWorkspace("idlist-")
	if err != nil {
		return nil, err
	}
	defer func() { _ = ws.Close() }()

	path, err := s.Downloader.DownloadToWorkspace(ctx, ws, s.Bucket, s.Key)
	if err != nil {
		return nil, fmt.Errorf("fetch record id override s3://%s/%s: %w", s.Bucket, s.Key, err)
	}
	f, err := ws.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open staged record id override: %w", err)
	}
	defer func() { _ = f.Close() }()

	ids, err := ParseIDList(f)
	if err != nil {
		return nil, fmt.Errorf("parse record id override s3://%s/%s: %w", s.Bucket, s.Key, err)
	}
	return ids, nil
}

// ParseIDList reads one record ID per line, skipping blank lines.
func ParseIDList(r io.Reader) ([]string, error) {
	var ids []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id != "" {
			ids = append(ids, id)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
