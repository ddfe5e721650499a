package storage

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-units"
)

var audioContentTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
}

// ContentTypeFor guesses the MIME type of an audio file from its extension.
func ContentTypeFor(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if ct, ok := audioContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Publisher mirrors assembled audio into an S3 bucket using multipart uploads.
type S3Publisher struct {
	uploader objectUploader
	bucket   string
}

// S3Options selects the bucket and, optionally, static keys and an
// S3-compatible endpoint. Without keys the default credential chain is used.
type S3Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}

// NewS3Publisher builds a multipart uploader for opts.Bucket.
func NewS3Publisher(ctx context.Context, opts S3Options) (*S3Publisher, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("S3 bucket must not be empty")
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = 10 * units.MiB
	})
	return &S3Publisher{uploader: uploader, bucket: opts.Bucket}, nil
}

// Publish uploads localPath as key objectName.
func (p *S3Publisher) Publish(ctx context.Context, localPath, objectName string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open assembled file: %w", err)
	}
	defer file.Close()

	out, err := p.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(objectName),
		Body:        file,
		ContentType: aws.String(ContentTypeFor(localPath)),
	})
	if err != nil {
		return "", fmt.Errorf("upload %s to s3: %w", objectName, err)
	}
	if out.Location != "" {
		return out.Location, nil
	}
	return fmt.Sprintf("s3://%s/%s", p.bucket, objectName), nil
}
