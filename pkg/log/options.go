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

package log

import (
	"fmt"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
)

// Options configures the process logger.
type Options struct {
	// Name is attached to every entry as the logger name.
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is one of debug, info, warn or error. It can change at runtime.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is console or json.
	Format string `json:"format,omitempty" mapstructure:"format"`

	EnableColor   bool `json:"enable-color,omitempty" mapstructure:"enable-color"`
	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// CallerSkip is the number of frames between the caller and zap.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	// SampleInitial, when positive, logs that many identical entries per
	// second and then one in every hundred. Zero disables sampling.
	SampleInitial int `json:"sample-initial,omitempty" mapstructure:"sample-initial"`

	// OutputPaths are files, stdout or stderr.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

func NewOptions() *Options {
	return &Options{
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		// Caller -> package func or wrapper method -> zap.
		CallerSkip:  2,
		OutputPaths: []string{"stdout"},
	}
}

func (o *Options) Validate() []error {
	var errs []error

	if _, err := zapcore.ParseLevel(o.Level); err != nil {
		errs = append(errs, fmt.Errorf("--log.level: %w", err))
	}
	if o.Format != "console" && o.Format != "json" {
		errs = append(errs, fmt.Errorf("--log.format must be console or json, got %q", o.Format))
	}
	if o.SampleInitial < 0 {
		errs = append(errs, fmt.Errorf("--log.sample-initial must not be negative"))
	}
	return errs
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "Logger name added to every entry.")
	fs.StringVar(&o.Level, "log.level", o.Level, "Minimum level: debug, info, warn or error. Reloaded with the config file.")
	fs.StringVar(&o.Format, "log.format", o.Format, "Output format: console or json.")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Colour levels in console output.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Omit the file:line of the caller.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "Caller frames to skip.")
	fs.IntVar(&o.SampleInitial, "log.sample-initial", o.SampleInitial, "Identical entries logged per second before sampling. 0 disables sampling.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths, "Log destinations, e.g. stdout or /var/log/ota-agent.log.")
}
