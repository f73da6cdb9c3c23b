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
	"github.com/cardinalhq/tablerunner/internal/records"
)

// Exclusion reasons, used as metric suffixes.
const (
	SkipSharingScope = "sharingScope"
	SkipStudy        = "studyNotWhitelisted"
)

// Filter is the record exclusion predicate for one run.
type Filter struct {
	mode    SharingMode
	studies map[string]struct{}
}

func NewFilter(req Request) *Filter {
	f := &Filter{mode: req.SharingMode}
	if len(req.StudyWhitelist) > 0 {
		f.studies = make(map[string]struct{}, len(req.StudyWhitelist))
		for _, study := range req.StudyWhitelist {
			f.studies[study] = struct{}{}
		}
	}
	return f
}

// Exclude reports whether the record should be skipped, and why.
func (f *Filter) Exclude(rec records.Record) (bool, string) {
	if !f.mode.Includes(rec.String("userSharingScope")) {
		return true, SkipSharingScope
	}
	if f.studies != nil {
		if _, ok := f.studies[rec.String("studyId")]; !ok {
			return true, SkipStudy
		}
	}
	return false, ""
}
