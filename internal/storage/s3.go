// Package storage moves images between providers and our S3 bucket.
//
// Provider URLs are short-lived and local development URLs are unreachable
// from the providers, so every image the pipeline hands out or consumes can
// pass through here: S3Store persists bytes and returns presigned URLs,
// Rehoster copies provider output into the bucket, Bridge uploads images
// whose URLs providers cannot reach, and PhotoPreparer normalizes the
// child's photo.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/provider"
)

// DefaultPresignExpiry is how long returned URLs stay valid.
const DefaultPresignExpiry = 24 * time.Hour

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type getPresigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store persists objects under a key prefix and hands out presigned GET URLs.
type S3Store struct {
	client  objectPutter
	presign getPresigner
	bucket  string
	prefix  string
	expiry  time.Duration
}

var _ provider.Persister = (*S3Store)(nil)

// NewS3Store creates a store for bucket. prefix may be empty.
func NewS3Store(client *s3.Client, presign *s3.PresignClient, bucket, prefix string, expiry time.Duration) *S3Store {
	return newS3Store(client, presign, bucket, prefix, expiry)
}

func newS3Store(client objectPutter, presign getPresigner, bucket, prefix string, expiry time.Duration) *S3Store {
	if expiry <= 0 {
		expiry = DefaultPresignExpiry
	}
	return &S3Store{
		client:  client,
		presign: presign,
		bucket:  bucket,
		prefix:  strings.Trim(prefix, "/"),
		expiry:  expiry,
	}
}

// Expiry is the lifetime of URLs returned by Persist.
func (s *S3Store) Expiry() time.Duration { return s.expiry }

// Persist uploads data to {prefix}/{key} and returns a presigned URL.
func (s *S3Store) Persist(ctx context.Context, data []byte, key, contentType string) (string, error) {
	fullKey := path.Join(s.prefix, strings.TrimLeft(key, "/"))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &fullKey,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s to S3: %w", fullKey, err)
	}

	result, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket, Key: &fullKey,
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.expiry
	})
	if err != nil {
		return "", fmt.Errorf("presign GetObject %s: %w", fullKey, err)
	}

	log.Debug().Str("key", fullKey).Int("bytes", len(data)).Msg("Object persisted to S3")
	return result.URL, nil
}
