// Package config loads engine options from a YAML/JSON/TOML fragment, with
// LEDGERWAL_-prefixed environment variables overriding keys the fragment
// sets, so a deployment can carry a config file instead of hand-assembling
// ledgerwal.Option values. It is a convenience layer over the builder in
// the root package, never a replacement for it.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/julianstephens/ledgerwal"
	"github.com/julianstephens/ledgerwal/internal/archive"
	"github.com/julianstephens/ledgerwal/internal/tail"
)

// FileOptions is the config-file-shaped mirror of ledgerwal.Config. Callers
// turn it into ledgerwal.Option values with ToOptions; ledgerwal itself has
// no dependency on viper or this package.
type FileOptions struct {
	Directory     string        `mapstructure:"directory"`
	BufferSizeKB  uint64        `mapstructure:"buffer_size_kb"`
	StorageSizeMB uint64        `mapstructure:"storage_size_mb"`
	FSync         bool          `mapstructure:"fsync"`
	SegmentSizeMB uint64        `mapstructure:"segment_size_mb"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`

	Archive ArchiveOptions `mapstructure:"archive"`
	Kafka   KafkaOptions   `mapstructure:"kafka"`
}

// ArchiveOptions configures optional S3 segment archival before retention
// deletes a sealed segment.
type ArchiveOptions struct {
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
}

// KafkaOptions configures optional forwarding of committed frames to a
// downstream consumer.
type KafkaOptions struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

func defaultFileOptions() FileOptions {
	return FileOptions{
		BufferSizeKB:  4,
		SegmentSizeMB: 8,
		FlushInterval: 5 * time.Second,
	}
}

// LoadOptionsFile reads a config fragment from path (YAML, JSON, or TOML,
// inferred from its extension) and layers it over documented defaults.
// LEDGERWAL_-prefixed environment variables (e.g. LEDGERWAL_FSYNC=true)
// override only keys that the file itself sets. An empty path or a missing
// file at path is not an error: the defaults are returned as-is, matching
// the builder's own defaults, and the environment is not consulted.
func LoadOptionsFile(path string) (FileOptions, error) {
	opts := defaultFileOptions()
	if path == "" {
		return opts, nil
	}

	v := viper.New()
	setupViper(v, path)

	found, err := readConfigFile(v)
	if err != nil {
		return FileOptions{}, err
	}
	if !found {
		return opts, nil
	}

	if err := v.Unmarshal(&opts); err != nil {
		return FileOptions{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return opts, nil
}

// ToOptions turns a loaded FileOptions into ledgerwal.Option values ready
// for ledgerwal.New. Archive options are only applied when Bucket is set;
// Kafka options are only applied when Topic is set — both stay opt-in the
// same way the underlying WithArchiver/WithForwarder options do. ctx is
// only used to resolve AWS credentials for the archiver and is otherwise
// unused when Archive.Bucket is empty.
func (o FileOptions) ToOptions(ctx context.Context) ([]ledgerwal.Option, error) {
	opts := []ledgerwal.Option{
		ledgerwal.Location(o.Directory),
		ledgerwal.BufferSize(ledgerwal.KB(o.BufferSizeKB)),
		ledgerwal.StorageSize(ledgerwal.MB(o.StorageSizeMB)),
		ledgerwal.SegmentSize(ledgerwal.MB(o.SegmentSizeMB)),
		ledgerwal.FlushInterval(o.FlushInterval),
	}
	if o.FSync {
		opts = append(opts, ledgerwal.EnableFSync())
	}
	if o.Kafka.Topic != "" {
		opts = append(opts, ledgerwal.WithForwarder(tail.NewKafkaForwarder(o.Kafka.Brokers, o.Kafka.Topic)))
	}
	if o.Archive.Bucket != "" {
		uploader, err := archive.NewS3Uploader(ctx, archive.Config{
			Bucket:   o.Archive.Bucket,
			Prefix:   o.Archive.Prefix,
			Region:   o.Archive.Region,
			Endpoint: o.Archive.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("config: archiver: %w", err)
		}
		opts = append(opts, ledgerwal.WithArchiver(uploader))
	}
	return opts, nil
}

func setupViper(v *viper.Viper, path string) {
	v.SetEnvPrefix("LEDGERWAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// An explicitly set config file that does not exist surfaces as a
		// plain not-exist error rather than ConfigFileNotFoundError.
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("config: read: %w", err)
	}
	return true, nil
}
