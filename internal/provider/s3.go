package provider

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/dunamismax/imageship/internal/config"
)

// S3Provider uploads to an S3-compatible bucket fronted by CloudFront.
// Objects are uploaded without ACLs; public access is CloudFront's job.
type S3Provider struct {
	client           *minio.Client
	bucket           string
	endpoint         string
	cloudFrontDomain string
	logger           *log.Logger
}

func NewS3Provider(cfg config.S3Config, logger *log.Logger) (*S3Provider, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}

	return &S3Provider{
		client:           mc,
		bucket:           cfg.Bucket,
		endpoint:         cfg.Endpoint,
		cloudFrontDomain: strings.TrimSpace(cfg.CloudFrontDomain),
		logger:           logger,
	}, nil
}

func (p *S3Provider) Name() string {
	return "s3"
}

func (p *S3Provider) TestConnection(ctx context.Context) error {
	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.bucket, err)
	}
	if !exists {
		return fmt.Errorf("bucket %s does not exist", p.bucket)
	}
	return nil
}

func (p *S3Provider) Upload(ctx context.Context, localPath, fileName string, opts UploadOptions) (UploadResult, error) {
	key := StorageKeyName(fileName, opts.AddTimestamp, time.Now())

	_, err := p.client.FPutObject(ctx, p.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: opts.ContentType,
	})
	if err != nil {
		return UploadResult{}, fmt.Errorf("put object %s: %w", key, err)
	}

	p.logger.Printf("uploaded key=%s bucket=%s", key, p.bucket)

	return UploadResult{
		Key:       key,
		PublicURL: p.publicURL(key),
	}, nil
}

func (p *S3Provider) ObjectExists(ctx context.Context, key string) (bool, error) {
	_, err := p.client.StatObject(ctx, p.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}

	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NoSuchObject" {
		return false, nil
	}
	return false, fmt.Errorf("stat object %s: %w", key, err)
}

func (p *S3Provider) Delete(ctx context.Context, key string) error {
	exists, err := p.ObjectExists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
	}

	if err := p.client.RemoveObject(ctx, p.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", key, err)
	}
	return nil
}

// Stats walks the bucket and totals object count and size.
func (p *S3Provider) Stats(ctx context.Context) (map[string]any, error) {
	var (
		totalObjects int64
		totalBytes   int64
	)
	for obj := range p.client.ListObjects(ctx, p.bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", p.bucket, obj.Err)
		}
		totalObjects++
		totalBytes += obj.Size
	}

	return map[string]any{
		"provider":          "s3",
		"bucket":            p.bucket,
		"cloudfront_domain": p.cloudFrontDomain,
		"total_objects":     totalObjects,
		"total_size_bytes":  totalBytes,
		"total_size_mb":     float64(totalBytes) / (1 << 20),
	}, nil
}

func (p *S3Provider) publicURL(key string) string {
	if p.cloudFrontDomain != "" {
		return fmt.Sprintf("https://%s/%s", p.cloudFrontDomain, key)
	}
	return fmt.Sprintf("https://%s/%s/%s", p.endpoint, p.bucket, key)
}
