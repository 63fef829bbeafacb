// Package media resolves avatar object keys to URLs.
package media

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Store turns object keys into URLs a client can load.
type Store interface {
	URL(ctx context.Context, key string) (string, error)
}

type presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// S3Store serves avatars from an S3 bucket, either as public URLs or presigned GETs.
type S3Store struct {
	presign    presigner
	bucket     string
	region     string
	publicRead bool
	ttl        time.Duration
}

// NewS3Store loads the default AWS configuration for region.
func NewS3Store(ctx context.Context, region, bucket string, publicRead bool, ttl time.Duration) (*S3Store, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		presign:    s3.NewPresignClient(client),
		bucket:     bucket,
		region:     region,
		publicRead: publicRead,
		ttl:        ttl,
	}, nil
}

// URL returns the URL of key, or "" for an empty key.
func (s *S3Store) URL(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	if strings.HasPrefix(key, "http://") || strings.HasPrefix(key, "https://") {
		return key, nil
	}
	if s.publicRead {
		return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, url.PathEscape(key)), nil
	}
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", key, err)
	}
	return req.URL, nil
}

// Passthrough returns keys unchanged. It is used when no bucket is configured.
type Passthrough struct{}

// URL returns key.
func (Passthrough) URL(_ context.Context, key string) (string, error) {
	return key, nil
}
