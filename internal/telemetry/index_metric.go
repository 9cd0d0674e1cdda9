package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// IndexMetrics holds the instruments recorded around index operations.
type IndexMetrics struct {
	OperationsCounter             metric.Int64Counter
	DurationHistogram             metric.Int64Histogram
	SplitsCounter                 metric.Int64Counter
	ActiveOperationsUpDownCounter metric.Int64UpDownCounter
	SnapshotBytesCounter          metric.Int64Counter
}

// NewIndexMetrics creates and registers the index instruments. A nil meter
// yields no-op instruments.
func NewIndexMetrics(meter metric.Meter) (*IndexMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	operations, err := meter.Int64Counter(
		"pagedb.index.operations",
		metric.WithDescription("Number of index operations, by operation and outcome."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Int64Histogram(
		"pagedb.index.duration",
		metric.WithDescription("Latency of index operations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	splits, err := meter.Int64Counter(
		"pagedb.index.splits",
		metric.WithDescription("Node splits caused by inserts."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	active, err := meter.Int64UpDownCounter(
		"pagedb.index.active_operations",
		metric.WithDescription("Index operations in progress."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	snapshotBytes, err := meter.Int64Counter(
		"pagedb.index.snapshot_bytes",
		metric.WithDescription("Bytes copied into index snapshots."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	return &IndexMetrics{
		OperationsCounter:             operations,
		DurationHistogram:             duration,
		SplitsCounter:                 splits,
		ActiveOperationsUpDownCounter: active,
		SnapshotBytesCounter:          snapshotBytes,
	}, nil
}
