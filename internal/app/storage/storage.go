/*
Package storage signs download URLs for chat files kept in an S3-compatible bucket.

Clients upload files out of band and reference them in message metadata by key; the
server only hands out short-lived download links to chat participants.
*/
package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DownloadURLDuration is how long a presigned download URL stays valid.
const DownloadURLDuration = 15 * time.Minute

// Config holds the configuration required to connect to the storage service.
type Config struct {
	BucketName      string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Enabled reports whether object storage is configured.
func (c Config) Enabled() bool {
	return c.BucketName != "" && c.Endpoint != ""
}

// Signer creates presigned download URLs.
type Signer struct {
	bucket  string
	presign *s3.PresignClient
}

// NewSigner initializes the S3 client using a custom configuration that supports S3-compatible endpoints.
func NewSigner(ctx context.Context, cfg Config) (*Signer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("storage: bucket and endpoint are required")
	}

	region := cfg.Region
	if region == "" {
		region = "auto"
	}

	sdkCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
		config.WithRegion(region),
	)
	if err != nil {
		return nil, fmt.Errorf("load AWS SDK config: %w", err)
	}

	client := s3.NewFromConfig(sdkCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.Endpoint)
		o.UsePathStyle = true
	})

	return &Signer{
		bucket:  cfg.BucketName,
		presign: s3.NewPresignClient(client),
	}, nil
}

// PresignDownload generates a presigned URL for downloading the specified file key.
func (s *Signer) PresignDownload(ctx context.Context, key string) (string, error) {
	resp, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(DownloadURLDuration))
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", key, err)
	}

	return resp.URL, nil
}

// ChatKeyPrefix is the key prefix under which files of a chat must live.
func ChatKeyPrefix(chatID int64) string {
	return "chats/" + strconv.FormatInt(chatID, 10) + "/"
}

// BelongsToChat reports whether key is a file key of chatID.
func BelongsToChat(key string, chatID int64) bool {
	prefix := ChatKeyPrefix(chatID)
	return len(key) > len(prefix) && strings.HasPrefix(key, prefix) && !strings.Contains(key, "..")
}
