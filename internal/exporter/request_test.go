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

package exporter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestRequestValidate(t *testing.T) {
	start := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	end := start.Add(4 * time.Hour)

	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{
			name: "date only",
			req:  Request{Date: "2026-01-15"},
		},
		{
			name: "range with study whitelist",
			req: Request{
				StartDateTime:  timePtr(start),
				EndDateTime:    timePtr(end),
				StudyWhitelist: []string{"study-a"},
			},
		},
		{
			name: "s3 override",
			req:  Request{RecordIDS3Override: "redrive/ids.txt"},
		},
		{
			name:    "no source",
			req:     Request{Tag: "nightly"},
			wantErr: "exactly one of",
		},
		{
			name: "two sources",
			req: Request{
				Date:               "2026-01-15",
				RecordIDS3Override: "redrive/ids.txt",
			},
			wantErr: "exactly one of",
		},
		{
			name:    "bad date",
			req:     Request{Date: "Jan 15 2026"},
			wantErr: "invalid date",
		},
		{
			name: "start without end",
			req: Request{
				StartDateTime:  timePtr(start),
				StudyWhitelist: []string{"study-a"},
			},
			wantErr: "given together",
		},
		{
			name: "start after end",
			req: Request{
				StartDateTime:  timePtr(end),
				EndDateTime:    timePtr(start),
				StudyWhitelist: []string{"study-a"},
			},
			wantErr: "before endDateTime",
		},
		{
			name: "range without study whitelist",
			req: Request{
				StartDateTime: timePtr(start),
				EndDateTime:   timePtr(end),
			},
			wantErr: "requires a studyWhitelist",
		},
		{
			name:    "bad sharing mode",
			req:     Request{Date: "2026-01-15", SharingMode: "friends_only"},
			wantErr: "invalid sharingMode",
		},
		{
			name:    "negative redrive count",
			req:     Request{Date: "2026-01-15", RedriveCount: -1},
			wantErr: "redriveCount",
		},
		{
			name:    "prefix override without project overrides",
			req:     Request{Date: "2026-01-15", RegistryPrefixOverride: "staging-"},
			wantErr: "must be given together",
		},
		{
			name: "project overrides without prefix override",
			req: Request{
				Date:             "2026-01-15",
				ProjectOverrides: map[string]string{"study-a": "proj-x"},
			},
			wantErr: "must be given together",
		},
		{
			name: "overrides together",
			req: Request{
				Date:                   "2026-01-15",
				RegistryPrefixOverride: "staging-",
				ProjectOverrides:       map[string]string{"study-a": "proj-x"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				assert.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestRequestClone(t *testing.T) {
	req := Request{
		Date:           "2026-01-15",
		StudyWhitelist: []string{"study-a"},
	}
	clone := req.Clone()
	clone.StudyWhitelist[0] = "mutated"
	assert.Equal(t, "study-a", req.StudyWhitelist[0])
}

func TestRequestString(t *testing.T) {
	assert.Equal(t, `date=2026-01-15 tag="nightly" redriveCount=2`,
		Request{Date: "2026-01-15", Tag: "nightly", RedriveCount: 2}.String())
	assert.Contains(t,
		Request{RecordIDS3Override: "redrive/ids.txt"}.String(),
		"override=redrive/ids.txt")
}

func TestRequestRunLabel(t *testing.T) {
	assert.Equal(t, "2026-01-15", (&Request{Date: "2026-01-15"}).RunLabel(time.UTC))
	label := (&Request{RecordIDS3Override: "x"}).RunLabel(time.UTC)
	_, err := time.Parse("2006-01-02", label)
	assert.NoError(t, err)
}
