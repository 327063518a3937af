package source

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/pkg/options"
)

// SchemeS3 marks firmware stored in an S3 bucket: s3://bucket/key.
const SchemeS3 = "s3"

var errS3Disabled = errors.New("s3:// firmware locations need --s3.endpoint")

// NewLocator returns a Locator for the given options. Without an S3 endpoint
// every URL is used as given and s3:// locations are rejected.
func NewLocator(opts *options.S3Options, insecureSkipVerify bool) (core.Locator, error) {
	if !opts.Enabled() {
		return Direct{}, nil
	}
	return NewS3Locator(opts, insecureSkipVerify)
}

// Direct fetches URLs as given.
type Direct struct{}

func (Direct) Locate(_ context.Context, raw string) (string, error) {
	if isS3(raw) {
		return "", errS3Disabled
	}
	return raw, nil
}

// S3Locator turns s3://bucket/key into a presigned HTTPS URL.
type S3Locator struct {
	client *minio.Client
	expiry time.Duration
}

func NewS3Locator(opts *options.S3Options, insecureSkipVerify bool) (*S3Locator, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure: opts.UseSSL,
		// With a fixed region presigning needs no request to the bucket.
		Region: opts.Region,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	return &S3Locator{client: client, expiry: opts.PresignExpiry}, nil
}

func (l *S3Locator) Locate(ctx context.Context, raw string) (string, error) {
	if !isS3(raw) {
		return raw, nil
	}

	bucket, key, err := splitS3(raw)
	if err != nil {
		return "", err
	}

	presigned, err := l.client.PresignedGetObject(ctx, bucket, key, l.expiry, make(url.Values))
	if err != nil {
		return "", fmt.Errorf("failed to generate presigned url: %w", err)
	}
	return presigned.String(), nil
}

func isS3(raw string) bool {
	return strings.HasPrefix(strings.ToLower(raw), SchemeS3+"://")
}

func splitS3(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("invalid firmware location %q: %w", raw, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("firmware location %q must be s3://bucket/key", raw)
	}
	return bucket, key, nil
}
