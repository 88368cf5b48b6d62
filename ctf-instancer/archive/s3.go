package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/kavos113/quickctf/ctf-instancer/domain"
)

const (
	DefaultBucketName = "instance-logs"
	LogFilePrefix     = "logs/"

	// maxLogSize caps how much of an environment's output is kept.
	maxLogSize = 8 << 20
)

type Config struct {
	Endpoint   string
	AccessKey  string
	SecretKey  string
	BucketName string
	Region     string
}

var _ domain.LogArchiver = (*S3Archiver)(nil)

// S3Archiver stores instance logs in an S3-compatible bucket.
type S3Archiver struct {
	client     *s3.Client
	bucketName string
}

func NewS3Archiver(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.BucketName == "" {
		cfg.BucketName = DefaultBucketName
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = true
	})

	a := &S3Archiver{
		client:     client,
		bucketName: cfg.BucketName,
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.ensureBucketExists(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure bucket exists: %w", err)
	}

	return a, nil
}

func (a *S3Archiver) ensureBucketExists(ctx context.Context) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(a.bucketName),
	})
	if err == nil {
		return nil
	}

	_, err = a.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(a.bucketName),
	})
	if err != nil {
		if strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") ||
			strings.Contains(err.Error(), "BucketAlreadyExists") {
			return nil
		}
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	return nil
}

func ObjectKey(key domain.InstanceKey, handle *domain.Handle) string {
	return fmt.Sprintf("%s%s/%s/%s.log", LogFilePrefix, key.Challenge, key.UserID, handle.Name)
}

func (a *S3Archiver) Archive(ctx context.Context, key domain.InstanceKey, handle *domain.Handle, logs io.Reader) error {
	content, err := io.ReadAll(io.LimitReader(logs, maxLogSize))
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucketName),
		Key:         aws.String(ObjectKey(key, handle)),
		Body:        bytes.NewReader(content),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("failed to save instance log: %w", err)
	}

	return nil
}

// LogURL returns a presigned download link for an archived log.
func (a *S3Archiver) LogURL(ctx context.Context, key domain.InstanceKey, handle *domain.Handle) (string, error) {
	presignClient := s3.NewPresignClient(a.client)

	presignedReq, err := presignClient.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucketName),
		Key:    aws.String(ObjectKey(key, handle)),
	}, s3.WithPresignExpires(time.Hour))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned URL: %w", err)
	}

	return presignedReq.URL, nil
}
