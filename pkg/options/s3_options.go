package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*S3Options)(nil)

// S3Options configures resolution of s3://bucket/key firmware locations into presigned URLs.
// An empty Endpoint disables it and s3:// locations are rejected.
type S3Options struct {
	Endpoint        string        `json:"endpoint" mapstructure:"endpoint"`
	AccessKeyID     string        `json:"access-key-id" mapstructure:"access-key-id"`
	SecretAccessKey string        `json:"secret-access-key" mapstructure:"secret-access-key"`
	UseSSL          bool          `json:"use-ssl" mapstructure:"use-ssl"`
	Region          string        `json:"region" mapstructure:"region"`
	PresignExpiry   time.Duration `json:"presign-expiry" mapstructure:"presign-expiry"`
}

func NewS3Options() *S3Options {
	return &S3Options{
		UseSSL:        true,
		Region:        "us-east-1",
		PresignExpiry: 15 * time.Minute,
	}
}

// Enabled reports whether s3:// firmware locations can be resolved.
func (o *S3Options) Enabled() bool {
	return o != nil && o.Endpoint != ""
}

func (o *S3Options) Validate() []error {
	if !o.Enabled() {
		return nil
	}

	errs := []error{}

	if o.Region == "" {
		errs = append(errs, errors.New("--s3.region is required when --s3.endpoint is set"))
	}
	if o.PresignExpiry <= 0 {
		errs = append(errs, errors.New("--s3.presign-expiry must be positive"))
	}

	return errs
}

func (o *S3Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Endpoint, "s3.endpoint", o.Endpoint, "S3 service endpoint for s3:// firmware locations (e.g. minio.local:9000)")
	fs.StringVar(&o.AccessKeyID, "s3.access-key-id", o.AccessKeyID, "S3 access key ID")
	fs.StringVar(&o.SecretAccessKey, "s3.secret-access-key", o.SecretAccessKey, "S3 secret access key")
	fs.BoolVar(&o.UseSSL, "s3.use-ssl", o.UseSSL, "Enable SSL for S3 connection")
	fs.StringVar(&o.Region, "s3.region", o.Region, "S3 region")
	fs.DurationVar(&o.PresignExpiry, "s3.presign-expiry", o.PresignExpiry, "Lifetime of presigned firmware URLs")
}
