// Package oss talks to the tenant object storage (S3-compatible). It only
// presigns requests for paths that already passed tenant authorization;
// upload and media processing mechanics live elsewhere.
package oss

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/yyupcompany/kinder-core/internal/config"
)

// Client presigns object-storage requests.
type Client struct {
	presign *s3.PresignClient
	bucket  string
}

// New builds a Client from config. Returns (nil, nil) when storage is not
// configured; callers treat a nil client as "storage disabled".
func New(cfg config.S3Config) (*Client, error) {
	if cfg.Bucket == "" && cfg.AccessKeyID == "" {
		return nil, nil
	}
	if cfg.Bucket == "" || cfg.Region == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("incomplete s3 config: bucket/region/access_key_id/secret_access_key are required")
	}

	opts := s3.Options{
		Region: cfg.Region,
		Credentials: aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
		UsePathStyle: cfg.PathStyle,
	}
	if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		opts.BaseEndpoint = aws.String(endpoint)
		// Non-AWS endpoints generally require path-style addressing.
		opts.UsePathStyle = true
	}

	return &Client{
		presign: s3.NewPresignClient(s3.New(opts)),
		bucket:  cfg.Bucket,
	}, nil
}

// PresignGet returns a time-limited download URL for an object key.
func (c *Client) PresignGet(ctx context.Context, key string, expires time.Duration) (string, error) {
	req, err := c.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	}, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign get %q: %w", key, err)
	}
	return req.URL, nil
}

// PresignPut returns a time-limited upload URL for an object key.
func (c *Client) PresignPut(ctx context.Context, key, contentType string, expires time.Duration) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(strings.TrimPrefix(key, "/")),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	req, err := c.presign.PresignPutObject(ctx, input, s3.WithPresignExpires(expires))
	if err != nil {
		return "", fmt.Errorf("presign put %q: %w", key, err)
	}
	return req.URL, nil
}
