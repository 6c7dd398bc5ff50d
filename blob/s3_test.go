package blob

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	input *s3.PutObjectInput
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestPutUploadsAndReturnsPublicURL(t *testing.T) {
	var fake = &fakeS3{}
	var subject = NewS3Store(fake, "shots", "eu-west-1")

	var url, err = subject.Put(context.Background(), "screenshots/2026-08-24/r1_example_com.png",
		[]byte("png-bytes"), "image/png")
	require.NoError(t, err)
	require.Equal(t, "https://shots.s3.eu-west-1.amazonaws.com/screenshots/2026-08-24/r1_example_com.png", url)

	require.Equal(t, "shots", aws.ToString(fake.input.Bucket))
	require.Equal(t, "image/png", aws.ToString(fake.input.ContentType))
	var body, readErr = io.ReadAll(fake.input.Body)
	require.NoError(t, readErr)
	require.Equal(t, []byte("png-bytes"), body)
}

func TestPutWrapsUploadError(t *testing.T) {
	var fake = &fakeS3{err: fmt.Errorf("boom")}
	var subject = NewS3Store(fake, "shots", "eu-west-1")

	var _, err = subject.Put(context.Background(), "k", nil, "image/png")
	require.ErrorContains(t, err, "uploading k")
}
