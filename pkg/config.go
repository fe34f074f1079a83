package persistent

// config.go defines the PickleCache's internal configuration and the set of
// functional options used to build it: a private config struct, a
// defaultConfig constructor, and a handful of With* options covering the
// count and byte budgets, drain resistance, and pointers to external
// collaborators (registry, logger).
//
// © 2025 go-persistent authors. MIT License.

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures a PickleCache at construction time.
type Option func(*config)

type config struct {
	// cacheSize is the target non-ghost member count, a soft target: IncrGC
	// stops once at or under it. Zero disables the count-based budget.
	cacheSize int

	// cacheSizeBytes is the target total estimated-size budget in bytes.
	// Zero disables the byte-based budget.
	cacheSizeBytes int64

	// drainResistance throttles how many excess objects IncrGC ghostifies
	// per call once over cacheSize: higher values spread deactivation over
	// more calls.
	drainResistance int

	registry *prometheus.Registry
	logger   *zap.Logger
}

func defaultConfig() *config {
	return &config{
		cacheSize:       1000,
		cacheSizeBytes:  0,
		drainResistance: 0,
		logger:          zap.NewNop(),
	}
}

// WithCacheSize sets the target non-ghost member count. A value <= 0
// disables the count-based budget, leaving only the byte budget (if any)
// in effect.
func WithCacheSize(n int) Option {
	return func(c *config) {
		if n <= 0 {
			c.cacheSize = 0
			return
		}
		c.cacheSize = n
	}
}

// WithCacheSizeBytes sets the target total estimated-size budget. A value
// <= 0 disables the byte-based budget.
func WithCacheSizeBytes(n int64) Option {
	return func(c *config) {
		if n <= 0 {
			c.cacheSizeBytes = 0
			return
		}
		c.cacheSizeBytes = n
	}
}

// WithDrainResistance sets how strongly incrgc resists draining down to
// the target size in a single call. 0 (the default) means "drain fully in
// one call".
func WithDrainResistance(n int) Option {
	return func(c *config) {
		if n < 0 {
			n = 0
		}
		c.drainResistance = n
	}
}

// WithMetrics enables Prometheus metrics collection for the cache.
// Passing nil disables metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *config) {
		c.registry = reg
	}
}

// WithLogger plugs an external zap.Logger. The cache never logs on the hot
// path (Get/Set/accessed); only slow events -- a ghostify failure during an
// eviction scan, a panic recovered while removing an unreferenced entry --
// are emitted.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

func applyOptions(cfg *config, opts []Option) error {
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.cacheSize == 0 && cfg.cacheSizeBytes == 0 {
		return errNoBudget
	}
	return nil
}

var errNoBudget = errors.New("persistent: cache needs WithCacheSize and/or WithCacheSizeBytes")
