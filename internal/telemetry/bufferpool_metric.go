package internaltelemetry

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// BufferPoolMetrics holds the instruments recorded by the buffer pool.
type BufferPoolMetrics struct {
	HitsCounter               metric.Int64Counter
	MissesCounter             metric.Int64Counter
	EvictionsCounter          metric.Int64Counter
	WritebacksCounter         metric.Int64Counter
	ExhaustedCounter          metric.Int64Counter
	PinnedFramesUpDownCounter metric.Int64UpDownCounter
}

// NewBufferPoolMetrics creates and registers the buffer pool instruments. A nil
// meter yields no-op instruments.
func NewBufferPoolMetrics(meter metric.Meter) (*BufferPoolMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	hits, err := meter.Int64Counter(
		"pagedb.bufferpool.hits",
		metric.WithDescription("Page fetches served from a resident frame."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	misses, err := meter.Int64Counter(
		"pagedb.bufferpool.misses",
		metric.WithDescription("Page fetches that had to load the page from disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	evictions, err := meter.Int64Counter(
		"pagedb.bufferpool.evictions",
		metric.WithDescription("Frames recycled from the free list for a different page."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	writebacks, err := meter.Int64Counter(
		"pagedb.bufferpool.writebacks",
		metric.WithDescription("Dirty pages written to disk."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	exhausted, err := meter.Int64Counter(
		"pagedb.bufferpool.exhausted",
		metric.WithDescription("Fetches rejected because every frame was pinned."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	pinned, err := meter.Int64UpDownCounter(
		"pagedb.bufferpool.pinned_frames",
		metric.WithDescription("Number of frames currently pinned."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &BufferPoolMetrics{
		HitsCounter:               hits,
		MissesCounter:             misses,
		EvictionsCounter:          evictions,
		WritebacksCounter:         writebacks,
		ExhaustedCounter:          exhausted,
		PinnedFramesUpDownCounter: pinned,
	}, nil
}
