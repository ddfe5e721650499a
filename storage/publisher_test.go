package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	input *s3.PutObjectInput
	body  []byte
	out   *manager.UploadOutput
	err   error
}

func (f *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.input = input
	if input.Body != nil {
		f.body, _ = io.ReadAll(input.Body)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

func TestS3PublisherUploadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "song.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3-bytes"), 0o644))

	up := &fakeUploader{out: &manager.UploadOutput{}}
	p := &S3Publisher{uploader: up, bucket: "music"}

	loc, err := p.Publish(context.Background(), path, "audio/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "s3://music/audio/song.mp3", loc)
	assert.Equal(t, "music", aws.ToString(up.input.Bucket))
	assert.Equal(t, "audio/song.mp3", aws.ToString(up.input.Key))
	assert.Equal(t, "audio/mpeg", aws.ToString(up.input.ContentType))
	assert.Equal(t, "ID3-bytes", string(up.body))

	up.out = &manager.UploadOutput{Location: "https://music.s3.amazonaws.com/audio/song.mp3"}
	loc, err = p.Publish(context.Background(), path, "audio/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, "https://music.s3.amazonaws.com/audio/song.mp3", loc)
}

func TestS3PublisherErrors(t *testing.T) {
	p := &S3Publisher{uploader: &fakeUploader{err: errors.New("denied")}, bucket: "music"}

	_, err := p.Publish(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), "x")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	_, err = p.Publish(context.Background(), path, "x")
	assert.ErrorContains(t, err, "denied")

	_, err = NewS3Publisher(context.Background(), S3Options{Region: "us-east-1"})
	assert.Error(t, err)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "audio/flac", ContentTypeFor("/x/a.FLAC"))
	assert.Equal(t, "audio/wav", ContentTypeFor("a.wav"))
	assert.Equal(t, "application/octet-stream", ContentTypeFor("noext"))
}

func TestNewS3PublisherWithStaticKeys(t *testing.T) {
	p, err := NewS3Publisher(context.Background(), S3Options{
		Bucket:    "music",
		Region:    "us-east-1",
		Endpoint:  "http://127.0.0.1:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.Equal(t, "music", p.bucket)
	assert.NotNil(t, p.uploader)
}
