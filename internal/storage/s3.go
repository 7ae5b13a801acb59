package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"story-text-worker/internal/config"
	"story-text-worker/internal/model"
)

const s3Scheme = "s3://"

// S3API: подмножество клиента S3, которое нужно публикатору.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type s3Publisher struct {
	client S3API
	bucket string
	logger *zap.Logger
	now    func() time.Time
}

// NewS3Client builds an S3 client from the default AWS credential chain. A custom
// endpoint (MinIO, LocalStack) may be set together with path-style addressing.
func NewS3Client(ctx context.Context, cfg config.BlobConfig) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

// NewS3Publisher creates a BlobPublisher storing objects in bucket.
func NewS3Publisher(client S3API, bucket string, logger *zap.Logger) BlobPublisher {
	return &s3Publisher{
		client: client,
		bucket: bucket,
		logger: logger.Named("S3Publisher"),
		now:    time.Now,
	}
}

func (p *s3Publisher) Publish(ctx context.Context, storyID, taskID string, taskType model.TaskType, payload []byte) (string, error) {
	key := ObjectKey(storyID, taskID, taskType)

	_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(p.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentType:   aws.String(contentTypeJSON),
		ContentLength: aws.Int64(int64(len(payload))),
		Metadata:      objectMetadata(storyID, p.now()),
	})
	if err != nil {
		p.logger.Error("Failed to upload object", zap.String("bucket", p.bucket), zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("%w: put s3://%s/%s: %v", model.ErrBlobWrite, p.bucket, key, err)
	}

	locator := p.Locate(storyID, taskID, taskType)
	p.logger.Debug("Object uploaded", zap.String("locator", locator), zap.Int("size_bytes", len(payload)))
	return locator, nil
}

func (p *s3Publisher) Locate(storyID, taskID string, taskType model.TaskType) string {
	return s3Scheme + p.bucket + "/" + ObjectKey(storyID, taskID, taskType)
}

func (p *s3Publisher) Fetch(ctx context.Context, locator string) ([]byte, error) {
	bucket, key, err := parseS3Locator(locator)
	if err != nil {
		return nil, err
	}

	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", model.ErrBlobRead, locator, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrBlobRead, locator, err)
	}
	return data, nil
}

func parseS3Locator(locator string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(locator, s3Scheme)
	if !ok {
		return "", "", fmt.Errorf("%w: not an s3 locator: %q", model.ErrBlobRead, locator)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: malformed s3 locator: %q", model.ErrBlobRead, locator)
	}
	return bucket, key, nil
}
