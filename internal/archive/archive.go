// Package archive offloads retired segments to object storage instead of
// letting retention delete them outright. It is an optional retention
// collaborator: the engine calls Archive before deleting a segment file,
// and a failure here never blocks the deletion — archival is best-effort,
// same as retention itself.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Uploader archives a sealed segment file before retention deletes it.
type Uploader interface {
	Archive(ctx context.Context, segmentID uint64, path string) error
}

// Config configures the S3-backed Uploader.
type Config struct {
	Bucket   string
	Prefix   string // prepended to every object key; may be empty
	Region   string
	Endpoint string // optional, for S3-compatible services (e.g. MinIO)
}

// S3Uploader uploads retired segment files to an S3 bucket, keyed by
// segment id, before the local copy is removed.
type S3Uploader struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Uploader constructs an S3Uploader using the ambient AWS credential
// chain (environment, shared config, instance profile, ...).
func NewS3Uploader(ctx context.Context, cfg Config) (*S3Uploader, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Uploader{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (u *S3Uploader) key(segmentID uint64) string {
	return fmt.Sprintf("%swal-%020d.log", u.prefix, segmentID)
}

// Archive uploads the segment file at path, keyed by segmentID, to the
// configured bucket.
func (u *S3Uploader) Archive(ctx context.Context, segmentID uint64, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("archive: read segment: %w", err)
	}

	_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(u.key(segmentID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("archive: put object: %w", err)
	}
	return nil
}
