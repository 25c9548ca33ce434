// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package blobstore

import (
	"context"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/juju/errors"

	arterrors "github.com/go-glare/glare/domain/artifact/errors"
)

// S3Config carries the connection details for an S3-compatible object
// store. Endpoint may point at a non-AWS implementation; leaving the
// credentials empty falls back to the ambient credential chain.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// ForcePathStyle is required by most non-AWS S3 implementations.
	ForcePathStyle bool
}

type s3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store returns a Store backed by the configured bucket.
func NewS3Store(ctx context.Context, cfg S3Config) (Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Annotate(err, "loading S3 configuration")
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return &s3Store{client: client, bucket: cfg.Bucket}, nil
}

// Put implements Store. The payload is spooled to a temp file while
// hashing so the upload can carry an accurate content length; S3
// multipart would otherwise need the size up front anyway.
func (s *s3Store) Put(ctx context.Context, key string, r io.Reader, maxBytes int64) (Meta, error) {
	tmp, err := os.CreateTemp("", "glare-s3-*")
	if err != nil {
		return Meta{}, errors.Trace(err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	hasher, sum := newHasher(r, maxBytes)
	n, err := copyWithContext(ctx, tmp, hasher)
	if err != nil {
		return Meta{}, errors.Trace(err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return Meta{}, errors.Trace(err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          tmp,
		ContentLength: aws.Int64(n),
	})
	if err != nil {
		return Meta{}, errors.Annotatef(err, "uploading blob %q", key)
	}
	return Meta{Size: n, Checksum: sum()}, nil
}

// Get implements Store.
func (s *s3Store) Get(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var notFound *s3types.NoSuchKey
		if errors.As(err, &notFound) {
			return nil, 0, errors.Annotatef(arterrors.BlobNotFound, "blob %q", key)
		}
		return nil, 0, errors.Annotatef(err, "fetching blob %q", key)
	}
	var size int64
	if out.ContentLength != nil {
		size = *out.ContentLength
	}
	return out.Body, size, nil
}

// Delete implements Store. S3 deletes are idempotent already.
func (s *s3Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return errors.Annotatef(err, "deleting blob %q", key)
}
