package ledgerwal

import (
	"time"

	"github.com/julianstephens/ledgerwal/internal/archive"
	"github.com/julianstephens/ledgerwal/internal/logger"
	"github.com/julianstephens/ledgerwal/internal/metrics"
	"github.com/julianstephens/ledgerwal/internal/tail"
)

// Default sizing, applied by New before any Option runs.
const (
	DefaultBufferSize   = Size(4 * kbUnit)
	DefaultSegmentSize  = Size(8 * mbUnit)
	DefaultStorageSize  = Size(0) // unbounded
	DefaultFlushCadence = 5 * time.Second
)

// Config is the immutable, validated configuration of an Engine. It is
// built exclusively through Option values passed to New; callers never
// construct it directly.
type Config struct {
	Directory     string
	BufferSize    Size
	StorageSize   Size
	FSync         bool
	SegmentSize   Size
	FlushInterval time.Duration

	Logger    logger.Logger
	Metrics   metrics.Collector
	Archiver  archive.Uploader
	Forwarder tail.Forwarder
}

// Option mutates a Config under construction. Options are applied in the
// order passed to New; later options win when they touch the same field.
type Option func(*Config)

// Location sets the WAL directory. Required.
func Location(path string) Option {
	return func(c *Config) { c.Directory = path }
}

// BufferSize sets the write buffer capacity.
func BufferSize(size Size) Option {
	return func(c *Config) { c.BufferSize = size }
}

// DisableBuffer bypasses buffering entirely; every write goes straight to
// the active segment.
func DisableBuffer() Option {
	return func(c *Config) { c.BufferSize = 0 }
}

// StorageSize sets the total on-disk cap across all segments. 0 means
// unbounded.
func StorageSize(size Size) Option {
	return func(c *Config) { c.StorageSize = size }
}

// EnableFSync fsyncs the active segment on every flush.
func EnableFSync() Option {
	return func(c *Config) { c.FSync = true }
}

// SegmentSize sets the maximum size of a single segment file before
// rotation.
func SegmentSize(size Size) Option {
	return func(c *Config) { c.SegmentSize = size }
}

// FlushInterval overrides the background auto-flush cadence.
func FlushInterval(d time.Duration) Option {
	return func(c *Config) { c.FlushInterval = d }
}

// WithLogger sets the diagnostic sink for retention/rotation/flush
// failures. Defaults to logger.NoOpLogger{}.
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMetrics sets the Prometheus (or custom) observation seam. Defaults
// to metrics.NoOp.
func WithMetrics(m metrics.Collector) Option {
	return func(c *Config) { c.Metrics = m }
}

// WithArchiver sets a retention collaborator that uploads a sealed
// segment before it is deleted. Defaults to nil, in which case retention
// deletes without archiving.
func WithArchiver(u archive.Uploader) Option {
	return func(c *Config) { c.Archiver = u }
}

// WithForwarder sets a post-flush observer that tails committed frames
// to a downstream consumer. Defaults to tail.NoOp.
func WithForwarder(f tail.Forwarder) Option {
	return func(c *Config) { c.Forwarder = f }
}

func newDefaultConfig() *Config {
	return &Config{
		BufferSize:    DefaultBufferSize,
		StorageSize:   DefaultStorageSize,
		SegmentSize:   DefaultSegmentSize,
		FlushInterval: DefaultFlushCadence,
		Logger:        logger.NoOpLogger{},
		Metrics:       metrics.NoOp,
		Forwarder:     tail.NoOp,
	}
}

func (c *Config) validate() error {
	if c.Directory == "" {
		return wrapErr("config", ErrConfigInvalid, "", 0, nil)
	}
	if c.SegmentSize == 0 {
		return wrapErr("config", ErrConfigInvalid, c.Directory, 0, nil)
	}
	if c.FlushInterval <= 0 {
		return wrapErr("config", ErrConfigInvalid, c.Directory, 0, nil)
	}
	return nil
}

// New builds an Engine from Option values. Location is required; every
// other option has a documented default (see DefaultBufferSize,
// DefaultSegmentSize, DefaultStorageSize, DefaultFlushCadence).
func New(opts ...Option) (*Engine, error) {
	cfg := newDefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return newEngine(cfg)
}

// NewDefault is the direct constructor: a WAL at dir with every default
// except an optional storage cap in megabytes (0 for unbounded).
func NewDefault(dir string, storageMB uint64) (*Engine, error) {
	opts := []Option{Location(dir)}
	if storageMB > 0 {
		opts = append(opts, StorageSize(MB(storageMB)))
	}
	return New(opts...)
}
