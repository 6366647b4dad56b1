// Package blob uploads media files to S3-compatible object storage and
// returns permanent public URLs for them.
package blob

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/playtube/playtube/internal/server/config"
)

// Store uploads objects to a single bucket.
type Store struct {
	client        putObjectAPI
	bucket        string
	publicBaseURL string
}

// putObjectAPI is the slice of the S3 client used by Store.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// New builds a Store from S3 settings. The endpoint may point at AWS or at
// an S3-compatible backend such as MinIO.
func New(ctx context.Context, cfg config.S3Config) (*Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey,
			cfg.SecretKey,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	base := cfg.PublicBaseURL
	if base == "" {
		base = cfg.Endpoint
	}

	return &Store{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimRight(base, "/"),
	}, nil
}

// StorageKey returns a fresh object key under the given prefix, keeping the
// original file extension so the served content type stays correct.
func StorageKey(prefix, filename string) string {
	d := time.Now()
	return fmt.Sprintf("%s/%d/%02d/%v%s", prefix, d.Year(), d.Month(), uuid.New(), path.Ext(filename))
}

// Upload stores body under key and returns the permanent public URL.
func (s *Store) Upload(ctx context.Context, key, contentType string, body io.Reader) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object %q: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.publicBaseURL, s.bucket, key), nil
}
