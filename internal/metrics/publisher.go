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

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/cardinalhq/tablerunner/internal/logctx"
)

// Publisher flushes a run's accumulated counters to an external sink.
type Publisher interface {
	Publish(ctx context.Context, m *Metrics) error
}

var runCounter metric.Int64Counter

func init() {
	meter := otel.Meter("github.com/cardinalhq/tablerunner/internal/metrics")

	var err error
	runCounter, err = meter.Int64Counter(
		"tablerunner.run.counter",
		metric.WithDescription("Per-run export counters, keyed by counter name"),
	)
	if err != nil {
		panic(fmt.Errorf("failed to create run.counter: %w", err))
	}
}

type otelPublisher struct{}

// NewOtelPublisher returns a Publisher that adds every run counter to the
// shared OTel counter, tagged with the counter name, and logs a sorted
// summary of the run.
func NewOtelPublisher() Publisher {
	return &otelPublisher{}
}

func (p *otelPublisher) Publish(ctx context.Context, m *Metrics) error {
	ll := logctx.FromContext(ctx)
	snap := m.Snapshot()
	for _, name := range m.Names() {
		runCounter.Add(ctx, snap[name], metric.WithAttributes(attribute.String("name", name)))
		ll.Info("Run counter", "counter", name, "value", snap[name])
	}
	return nil
}
