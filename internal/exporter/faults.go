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
)

// ErrNotWritable means the remote table service reported it cannot accept
// writes. Checked before any record is processed; aborts the whole run so the
// queue redrives it later.
var ErrNotWritable = errors.New("remote table service is not writable")

// ConsistencyError means the remote service processed a different number of
// lines than the buffer staged. It signals silent data loss and always aborts
// the run without marking it successful.
type ConsistencyError struct {
	TableID        string
	LineCount      int64
	LinesProcessed int64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("table %s: uploaded %d lines but remote processed %d",
		e.TableID, e.LineCount, e.LinesProcessed)
}
