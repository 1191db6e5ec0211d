package cloudtree

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like
// Prometheus.
type MetricsCollector interface {
	// RecordIngest is called after each ingest batch. count is the number
	// of points appended, duration the total time taken.
	RecordIngest(count int, duration time.Duration, err error)

	// RecordQuery is called after a point query drains. numPoints is the
	// emitted total.
	RecordQuery(numPoints uint64, duration time.Duration, err error)

	// RecordFetch is called for each chunk fetched from the backend.
	RecordFetch(bytes int64, duration time.Duration, err error)

	// RecordSave is called after each Save.
	RecordSave(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordIngest(int, time.Duration, error)   {}
func (NoopMetricsCollector) RecordQuery(uint64, time.Duration, error) {}
func (NoopMetricsCollector) RecordFetch(int64, time.Duration, error)  {}
func (NoopMetricsCollector) RecordSave(time.Duration, error)          {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	IngestCount      atomic.Int64
	IngestErrors     atomic.Int64
	IngestTotalNanos atomic.Int64

	QueryCount      atomic.Int64
	QueryErrors     atomic.Int64
	QueryPoints     atomic.Int64
	QueryTotalNanos atomic.Int64

	FetchCount atomic.Int64
	FetchBytes atomic.Int64

	SaveCount  atomic.Int64
	SaveErrors atomic.Int64
}

func (m *BasicMetricsCollector) RecordIngest(count int, d time.Duration, err error) {
	m.IngestCount.Add(int64(count))
	m.IngestTotalNanos.Add(int64(d))
	if err != nil {
		m.IngestErrors.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordQuery(numPoints uint64, d time.Duration, err error) {
	m.QueryCount.Add(1)
	m.QueryPoints.Add(int64(numPoints))
	m.QueryTotalNanos.Add(int64(d))
	if err != nil {
		m.QueryErrors.Add(1)
	}
}

func (m *BasicMetricsCollector) RecordFetch(bytes int64, _ time.Duration, err error) {
	m.FetchCount.Add(1)
	if err == nil {
		m.FetchBytes.Add(bytes)
	}
}

func (m *BasicMetricsCollector) RecordSave(_ time.Duration, err error) {
	m.SaveCount.Add(1)
	if err != nil {
		m.SaveErrors.Add(1)
	}
}
