// Package objectstore implements the storage manager against an
// S3-compatible object store, using the AWS SDK's default credential
// chain (environment, shared config/profile, then instance role).
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/cratehub/registry/internal/storage"
)

// Store is a storage.Manager backed by a single S3 bucket, with all
// keys placed under Prefix.
type Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// New resolves credentials via the SDK's default chain for region and
// returns a Store over bucket, scoping every key under keyPrefix. A
// non-empty endpoint overrides the default AWS S3 endpoint, letting an
// operator point the store at a MinIO or other S3-compatible service.
func New(ctx context.Context, region, bucket, keyPrefix, endpoint string) (*Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("objectstore: load credentials: %w", err)
	}
	opts := make([]func(*s3.Options), 0, 1)
	if endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}
	return &Store{
		client: s3.NewFromConfig(cfg, opts...),
		bucket: bucket,
		prefix: keyPrefix,
	}, nil
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + "/" + k
}

func (s *Store) put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(key)),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("objectstore: put %s: %w", key, err)
	}
	return nil
}

func (s *Store) PutCrate(ctx context.Context, name, vers string, r io.Reader) error {
	return s.put(ctx, storage.CrateKey(name, vers), r, "application/octet-stream")
}

func (s *Store) GetCrate(ctx context.Context, name, vers string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storage.CrateKey(name, vers))),
	})
	if isNoSuchKey(err) {
		return nil, &notFoundError{key: storage.CrateKey(name, vers)}
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", storage.CrateKey(name, vers), err)
	}
	return out.Body, nil
}

func (s *Store) DeleteCrate(ctx context.Context, name, vers string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storage.CrateKey(name, vers))),
	})
	if err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", storage.CrateKey(name, vers), err)
	}
	return nil
}

func (s *Store) PutReadme(ctx context.Context, name, vers string, html []byte) error {
	return s.put(ctx, storage.ReadmeKey(name, vers), bytes.NewReader(html), "text/html; charset=utf-8")
}

func (s *Store) GetReadme(ctx context.Context, name, vers string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storage.ReadmeKey(name, vers))),
	})
	if isNoSuchKey(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", storage.ReadmeKey(name, vers), err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *Store) DeleteReadme(ctx context.Context, name, vers string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storage.ReadmeKey(name, vers))),
	})
	if err != nil {
		return fmt.Errorf("objectstore: delete %s: %w", storage.ReadmeKey(name, vers), err)
	}
	return nil
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	return errors.As(err, &nsk)
}

type notFoundError struct{ key string }

func (e *notFoundError) Error() string  { return fmt.Sprintf("objectstore: no blob at %s", e.key) }
func (e *notFoundError) NotFound() bool { return true }
