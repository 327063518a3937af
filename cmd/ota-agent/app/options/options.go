package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/otaagent/internal/agent"
	"github.com/autopeer-io/otaagent/pkg/app"
	"github.com/autopeer-io/otaagent/pkg/log"
	"github.com/autopeer-io/otaagent/pkg/options"
)

type AgentOptions struct {
	Agent       *options.AgentOptions `json:"agent" mapstructure:"agent"`
	OTAOptions  *options.OTAOptions   `json:"ota" mapstructure:"ota"`
	HALOptions  *options.HALOptions   `json:"hal" mapstructure:"hal"`
	MqttOptions *options.MqttOptions  `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions *options.HttpOptions  `json:"http" mapstructure:"http"`
	S3Options   *options.S3Options    `json:"s3" mapstructure:"s3"`
	Log         *log.Options          `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		Agent:       options.NewAgentOptions(),
		OTAOptions:  options.NewOTAOptions(),
		HALOptions:  options.NewHALOptions(),
		MqttOptions: options.NewMqttOptions(),
		HttpOptions: options.NewHttpOptions(),
		S3Options:   options.NewS3Options(),
		Log:         log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.Agent.AddFlags(fss.FlagSet("agent"))
	o.OTAOptions.AddFlags(fss.FlagSet("ota"))
	o.HALOptions.AddFlags(fss.FlagSet("hal"))
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.Agent.Validate()...)
	errs = append(errs, o.OTAOptions.Validate()...)
	errs = append(errs, o.HALOptions.Validate()...)
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*agent.Config, error) {
	return &agent.Config{
		Agent: o.Agent,
		OTA:   o.OTAOptions,
		HAL:   o.HALOptions,
		Mqtt:  o.MqttOptions,
		Http:  o.HttpOptions,
		S3:    o.S3Options,
	}, nil
}
