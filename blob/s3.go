package blob

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client used by S3Store.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store uploads screenshot payloads to a single bucket.
type S3Store struct {
	client s3API
	bucket string
	region string
}

// NewS3Store returns an S3Store over the given bucket.
func NewS3Store(client s3API, bucket, region string) *S3Store {
	return &S3Store{client: client, bucket: bucket, region: region}
}

// Put stores data under key and returns its public URL. A repeated Put of the
// same key succeeds and overwrites: the caller only uploads while holding the
// request claim, and concurrent uploads of one request carry equivalent bytes.
func (s *S3Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	var _, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}
	return s.URL(key), nil
}

// URL returns the public URL of key. It is derived from bucket, region, and
// key alone, so it never needs to be persisted by this adapter.
func (s *S3Store) URL(key string) string {
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
