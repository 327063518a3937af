// Copyright 2025 The Autopeer Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package options

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*OTAOptions)(nil)

// OTAOptions configures the update core: download, redirect and persistence behaviour.
type OTAOptions struct {
	// Namespace is the persistent key-value namespace holding appVersion and pendingValidation.
	Namespace string `json:"namespace" mapstructure:"namespace"`

	// ChunkSize is the maximum number of bytes moved from the network stream to flash per write.
	ChunkSize int `json:"chunk-size" mapstructure:"chunk-size"`

	// MaxRedirects bounds the redirect chain. Exhausting it is not an error.
	MaxRedirects int `json:"max-redirects" mapstructure:"max-redirects"`

	// IdleTimeout aborts a download that makes no progress for this long.
	// There is deliberately no default; it must be set explicitly.
	IdleTimeout time.Duration `json:"idle-timeout" mapstructure:"idle-timeout"`

	// PollInterval is how long the downloader yields when no bytes are available.
	PollInterval time.Duration `json:"poll-interval" mapstructure:"poll-interval"`

	// ProgressStep is the percentage granularity of progress reports.
	ProgressStep int `json:"progress-step" mapstructure:"progress-step"`

	// ConnectTimeout bounds TCP/TLS connection setup and waiting for response headers.
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`

	// InsecureSkipVerify disables TLS certificate verification for firmware downloads.
	// With it set, downloads have no transport-layer authenticity guarantee.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`
}

// NewOTAOptions creates an OTAOptions with default values.
func NewOTAOptions() *OTAOptions {
	return &OTAOptions{
		Namespace:          "OTAUpdate",
		ChunkSize:          128,
		MaxRedirects:       10,
		PollInterval:       10 * time.Millisecond,
		ProgressStep:       5,
		ConnectTimeout:     30 * time.Second,
		InsecureSkipVerify: true,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *OTAOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Namespace == "" {
		errs = append(errs, errors.New("--ota.namespace must not be empty"))
	}
	if o.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("--ota.chunk-size must be positive, got %d", o.ChunkSize))
	}
	if o.MaxRedirects < 0 {
		errs = append(errs, fmt.Errorf("--ota.max-redirects must not be negative, got %d", o.MaxRedirects))
	}
	if o.IdleTimeout <= 0 {
		errs = append(errs, errors.New("--ota.idle-timeout is required and must be positive"))
	}
	if o.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("--ota.poll-interval must be positive, got %s", o.PollInterval))
	}
	if o.ProgressStep <= 0 || o.ProgressStep > 100 {
		errs = append(errs, fmt.Errorf("--ota.progress-step must be within 1-100, got %d", o.ProgressStep))
	}

	return errs
}

// AddFlags adds flags for OTAOptions to the specified FlagSet.
func (o *OTAOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Namespace, "ota.namespace", o.Namespace, "Persistent store namespace for update bookkeeping.")
	fs.IntVar(&o.ChunkSize, "ota.chunk-size", o.ChunkSize, "Maximum bytes written to flash per chunk.")
	fs.IntVar(&o.MaxRedirects, "ota.max-redirects", o.MaxRedirects, "Maximum number of HTTP redirects to follow.")
	fs.DurationVar(&o.IdleTimeout, "ota.idle-timeout", o.IdleTimeout, "Abort a download after this long without receiving bytes. Required.")
	fs.DurationVar(&o.PollInterval, "ota.poll-interval", o.PollInterval, "How long to yield when the network has no bytes available.")
	fs.IntVar(&o.ProgressStep, "ota.progress-step", o.ProgressStep, "Report download progress every N percent.")
	fs.DurationVar(&o.ConnectTimeout, "ota.connect-timeout", o.ConnectTimeout, "Timeout for connecting and receiving response headers.")
	fs.BoolVar(&o.InsecureSkipVerify, "ota.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips TLS certificate verification for firmware downloads.")
}
