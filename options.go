package cloudtree

import (
	"fmt"

	"golang.org/x/time/rate"

	"github.com/hupe1980/cloudtree/codec"
)

type options struct {
	cdc              codec.Codec
	logger           *Logger
	metrics          MetricsCollector
	cacheBytes       int64
	fetchConcurrency int
	limiter          *rate.Limiter
	subset           uint64
	postfix          string
}

func defaultOptions() options {
	return options{
		cdc:     codec.Default,
		logger:  NoopLogger(),
		metrics: NoopMetricsCollector{},
	}
}

// Option configures index construction and open behavior.
type Option func(*options)

// WithCodec configures the codec used to encode the manifest, which records
// the codec's name. Hierarchy JSON is always encoded with codec.Default.
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.cdc = c
	}
}

// WithLogger configures structured logging. If nil is passed, logging is
// disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector wires operational metrics, e.g. a Prometheus
// adapter.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metrics = m
	}
}

// WithCacheSize bounds the chunk cache's resident bytes.
func WithCacheSize(bytes int64) Option {
	return func(o *options) {
		o.cacheBytes = bytes
	}
}

// WithFetchConcurrency bounds parallel chunk fetches per query.
func WithFetchConcurrency(n int) Option {
	return func(o *options) {
		o.fetchConcurrency = n
	}
}

// WithRateLimiter throttles backend chunk fetches across all queries,
// useful against rate-limited object stores.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		o.limiter = l
	}
}

// WithSubset marks this build as subset n of a split build. All persisted
// keys gain a "-n" postfix; subset 0 means a whole build.
func WithSubset(n uint64) Option {
	return func(o *options) {
		o.subset = n
		if n > 0 {
			o.postfix = fmt.Sprintf("-%d", n)
		} else {
			o.postfix = ""
		}
	}
}
