// Package config holds the configurable knobs a host can pass at
// coordinator.Open: cache size, WAL fsync policy, cartesian-product ceiling,
// and sort spill threshold. Knobs load from an optional
// YAML file alongside functional-option overrides.
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// FsyncPolicy controls how aggressively the WAL flushes to disk.
type FsyncPolicy string

const (
	// FsyncAlways fsyncs after every WAL append (default, durable).
	FsyncAlways FsyncPolicy = "always"
	// FsyncBatch fsyncs once per Apply batch only (already the default
	// granularity; reserved for a future multi-record batch append).
	FsyncBatch FsyncPolicy = "batch"
	// FsyncNever never fsyncs; relies on OS page cache flush. Only sane for
	// throwaway/test databases.
	FsyncNever FsyncPolicy = "never"
)

// Knobs holds every tunable a host can set at open time.
type Knobs struct {
	// CacheSize is the maximum number of node/edge records held in the
	// bounded record cache.
	CacheSize int `yaml:"cache_size"`

	// WALFsyncPolicy controls WAL durability vs. throughput tradeoff.
	WALFsyncPolicy FsyncPolicy `yaml:"wal_fsync_policy"`

	// WALSegmentBytes is the rotation threshold for WAL segment files.
	WALSegmentBytes int64 `yaml:"wal_segment_bytes"`

	// CartesianCeiling is the hard row-count ceiling above which the
	// planner refuses a cartesian-product fallback plan with an Unplanned
	// error.
	CartesianCeiling int64 `yaml:"cartesian_ceiling"`

	// SortSpillThreshold is the number of buffered rows above which Order
	// spills to a temp file instead of sorting fully in memory.
	SortSpillThreshold int `yaml:"sort_spill_threshold"`
}

// Default returns the knob set used when a host opens a coordinator with no
// overrides.
func Default() Knobs {
	return Knobs{
		CacheSize:          10_000,
		WALFsyncPolicy:     FsyncAlways,
		WALSegmentBytes:    64 << 20, // 64MiB
		CartesianCeiling:   1_000_000,
		SortSpillThreshold: 100_000,
	}
}

// Load reads knobs from a YAML file, starting from Default() and overlaying
// any fields present in the file.
func Load(path string) (Knobs, error) {
	k := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return k, err
	}
	if err := yaml.Unmarshal(data, &k); err != nil {
		return k, err
	}
	return k, nil
}

// Option mutates a Knobs value; passed to coordinator.Open as functional
// options.
type Option func(*Knobs)

func WithCacheSize(n int) Option            { return func(k *Knobs) { k.CacheSize = n } }
func WithWALFsyncPolicy(p FsyncPolicy) Option { return func(k *Knobs) { k.WALFsyncPolicy = p } }
func WithWALSegmentBytes(n int64) Option     { return func(k *Knobs) { k.WALSegmentBytes = n } }
func WithCartesianCeiling(n int64) Option    { return func(k *Knobs) { k.CartesianCeiling = n } }
func WithSortSpillThreshold(n int) Option    { return func(k *Knobs) { k.SortSpillThreshold = n } }
