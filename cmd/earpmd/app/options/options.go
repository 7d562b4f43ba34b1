package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/earpm/internal/earpmd"
	"github.com/autopeer-io/earpm/pkg/log"
	"github.com/autopeer-io/earpm/pkg/options"
)

type EarpmdOptions struct {
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	EarpmOptions     *options.EarpmOptions     `json:"earpm" mapstructure:"earpm"`
	DiscoveryOptions *options.DiscoveryOptions `json:"discovery" mapstructure:"discovery"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

func NewEarpmdOptions() *EarpmdOptions {
	return &EarpmdOptions{
		MqttOptions:      options.NewMqttOptions(),
		EarpmOptions:     options.NewEarpmOptions(),
		DiscoveryOptions: options.NewDiscoveryOptions(),
		HttpOptions:      options.NewHttpOptions(),
		Log:              log.NewOptions(),
	}
}

func (o *EarpmdOptions) Flags() (fss cliflag.NamedFlagSets) {
	o.MqttOptions.AddFlags(fss.FlagSet("MQTT"))
	o.EarpmOptions.AddFlags(fss.FlagSet("Remote Provider"))
	o.DiscoveryOptions.AddFlags(fss.FlagSet("Discovery"))
	o.HttpOptions.AddFlags(fss.FlagSet("HTTP"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *EarpmdOptions) Complete() error {
	return nil
}

func (o *EarpmdOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.EarpmOptions.Validate()...)
	errs = append(errs, o.DiscoveryOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *EarpmdOptions) Config() (*earpmd.Config, error) {
	return &earpmd.Config{
		MqttOptions:      o.MqttOptions,
		EarpmOptions:     o.EarpmOptions,
		DiscoveryOptions: o.DiscoveryOptions,
		HttpOptions:      o.HttpOptions,
	}, nil
}
