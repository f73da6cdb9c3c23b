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
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"
)

// SharingMode selects which records a run exports, by the record's own
// sharing scope.
type SharingMode string

const (
	SharingModeAll        SharingMode = "all"
	SharingModeShared     SharingMode = "shared"
	SharingModePublicOnly SharingMode = "public_only"
)

// Record sharing scopes.
const (
	ScopeNoSharing = "no_sharing"
	ScopeShared    = "sponsors_and_partners"
	ScopePublic    = "all_qualified_researchers"
)

// Includes reports whether a record with the given sharing scope is exported
// under this mode. The zero mode behaves as SharingModeAll.
func (m SharingMode) Includes(scope string) bool {
	switch m {
	case SharingModeAll, "":
		return true
	case SharingModeShared:
		return scope == ScopeShared || scope == ScopePublic
	case SharingModePublicOnly:
		return scope == ScopePublic
	default:
		return false
	}
}

func (m SharingMode) valid() bool {
	switch m {
	case "", SharingModeAll, SharingModeShared, SharingModePublicOnly:
		return true
	default:
		return false
	}
}

// Request describes one export run. Exactly one of Date, the
// StartDateTime/EndDateTime pair, or RecordIDS3Override selects the record
// set.
type Request struct {
	Date               string     `json:"date,omitempty"`
	StartDateTime      *time.Time `json:"startDateTime,omitempty"`
	EndDateTime        *time.Time `json:"endDateTime,omitempty"`
	RecordIDS3Override string     `json:"recordIdS3Override,omitempty"`

	Tag          string      `json:"tag,omitempty"`
	RedriveCount int         `json:"redriveCount,omitempty"`
	SharingMode  SharingMode `json:"sharingMode,omitempty"`

	StudyWhitelist []string `json:"studyWhitelist,omitempty"`
	TableWhitelist []string `json:"tableWhitelist,omitempty"`

	// RegistryPrefixOverride and ProjectOverrides redirect a run to an
	// alternate registry namespace and alternate destination projects. They
	// must be given together.
	RegistryPrefixOverride string            `json:"registryPrefixOverride,omitempty"`
	ProjectOverrides       map[string]string `json:"projectOverrideMap,omitempty"`
}

// Validate checks the request's structural rules.
func (r *Request) Validate() error {
	sources := 0
	if r.Date != "" {
		sources++
	}
	if r.StartDateTime != nil || r.EndDateTime != nil {
		sources++
	}
	if r.RecordIDS3Override != "" {
		sources++
	}
	if sources != 1 {
		return errors.New("exactly one of date, startDateTime/endDateTime, or recordIdS3Override must be set")
	}

	if r.Date != "" {
		if _, err := time.Parse("2006-01-02", r.Date); err != nil {
			return fmt.Errorf("invalid date %q: %w", r.Date, err)
		}
	}
	if r.StartDateTime != nil || r.EndDateTime != nil {
		if r.StartDateTime == nil || r.EndDateTime == nil {
			return errors.New("startDateTime and endDateTime must be given together")
		}
		if !r.StartDateTime.Before(*r.EndDateTime) {
			return errors.New("startDateTime must be before endDateTime")
		}
		if len(r.StudyWhitelist) == 0 {
			return errors.New("a date-time range requires a studyWhitelist")
		}
	}

	if !r.SharingMode.valid() {
		return fmt.Errorf("invalid sharingMode %q", r.SharingMode)
	}
	if r.RedriveCount < 0 {
		return errors.New("redriveCount must not be negative")
	}

	if (r.RegistryPrefixOverride == "") != (len(r.ProjectOverrides) == 0) {
		return errors.New("registryPrefixOverride and projectOverrideMap must be given together")
	}
	return nil
}

// RunLabel is the run date or tag recorded on rows and in logs: the date for
// date runs, otherwise today's date in the given location.
func (r *Request) RunLabel(loc *time.Location) string {
	if r.Date != "" {
		return r.Date
	}
	return time.Now().In(loc).Format("2006-01-02")
}

// Clone returns a deep copy; collections are never shared with the caller.
func (r Request) Clone() Request {
	r.StudyWhitelist = slices.Clone(r.StudyWhitelist)
	r.TableWhitelist = slices.Clone(r.TableWhitelist)
	r.ProjectOverrides = maps.Clone(r.ProjectOverrides)
	if r.StartDateTime != nil {
		t := *r.StartDateTime
		r.StartDateTime = &t
	}
	if r.EndDateTime != nil {
		t := *r.EndDateTime
		r.EndDateTime = &t
	}
	return r
}

// String prints the identifying subset of the request.
func (r Request) String() string {
	switch {
	case r.Date != "":
		return fmt.Sprintf("date=%s tag=%q redriveCount=%d", r.Date, r.Tag, r.RedriveCount)
	case r.StartDateTime != nil && r.EndDateTime != nil:
		return fmt.Sprintf("range=%s..%s tag=%q redriveCount=%d",
			r.StartDateTime.Format(time.RFC3339), r.EndDateTime.Format(time.RFC3339), r.Tag, r.RedriveCount)
	default:
		return fmt.Sprintf("override=%s tag=%q redriveCount=%d", r.RecordIDS3Override, r.Tag, r.RedriveCount)
	}
}
