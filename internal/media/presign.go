// Package media hands out presigned object storage URLs so clients upload and
// fetch message attachments directly. Messages only carry the object key.
package media

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"mpchat/internal/apperr"
)

var (
	loadDefaultAWSConfig = config.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

const keyPrefix = "media/"

type Options struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	TTL       time.Duration
}

type UploadRequest struct {
	ContentType string `json:"content_type" validate:"required,max=100"`
	FileName    string `json:"file_name" validate:"omitempty,max=255"`
}

type Presigned struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Presigner struct {
	client *s3.PresignClient
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

func NewPresigner(ctx context.Context, opts Options) (*Presigner, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")))
	}

	cfg, err := loadDefaultAWSConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			// MinIO and other S3 compatibles
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Presigner{client: newS3PresignClient(client), bucket: opts.Bucket, ttl: ttl, now: time.Now}, nil
}

// NewKey returns a fresh object key under the uploader's prefix, keeping the
// file extension when there is a sensible one.
func NewKey(userID, fileName string, at time.Time) string {
	ext := strings.ToLower(path.Ext(path.Base(fileName)))
	if len(ext) > 10 || strings.ContainsAny(ext, " /\\") {
		ext = ""
	}
	return fmt.Sprintf("%s%s/%d/%02d/%02d/%s%s", keyPrefix, userID, at.Year(), at.Month(), at.Day(), uuid.NewString(), ext)
}

// ValidKey reports whether key looks like one NewKey produced.
func ValidKey(key string) bool {
	return strings.HasPrefix(key, keyPrefix) && !strings.Contains(key, "..") && len(key) <= 500
}

func (p *Presigner) UploadURL(ctx context.Context, userID string, req UploadRequest) (*Presigned, error) {
	if err := apperr.Validate(req); err != nil {
		return nil, err
	}

	now := p.now()
	key := NewKey(userID, req.FileName, now)
	out, err := presignPutObject(p.client, ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(req.ContentType),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return nil, fmt.Errorf("presign put: %w", err)
	}
	return &Presigned{Key: key, URL: out.URL, ExpiresAt: now.Add(p.ttl)}, nil
}

func (p *Presigner) DownloadURL(ctx context.Context, key string) (*Presigned, error) {
	if !ValidKey(key) {
		return nil, apperr.Validation("Invalid media key")
	}

	now := p.now()
	out, err := presignGetObject(p.client, ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(p.ttl))
	if err != nil {
		return nil, fmt.Errorf("presign get: %w", err)
	}
	return &Presigned{Key: key, URL: out.URL, ExpiresAt: now.Add(p.ttl)}, nil
}
