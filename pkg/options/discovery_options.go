package options

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/earpm/internal/discovery"
)

var _ IOptions = (*DiscoveryOptions)(nil)

// DiscoveryOptions configures broker discovery.
type DiscoveryOptions struct {
	// LoadProfile publishes the listeners of the local broker profile. Enable
	// on nodes that host the broker.
	LoadProfile bool `json:"load-profile" mapstructure:"load-profile"`

	// BrokerProfile is the mosquitto configuration path (EARPM_BROKER_PROFILE).
	BrokerProfile string `json:"broker-profile" mapstructure:"broker-profile"`

	// WaitForProfile watches for a profile that does not exist yet.
	WaitForProfile bool `json:"wait-for-profile" mapstructure:"wait-for-profile"`
}

// NewDiscoveryOptions creates a DiscoveryOptions with default values.
func NewDiscoveryOptions() *DiscoveryOptions {
	return &DiscoveryOptions{
		BrokerProfile: discovery.DefaultProfilePath,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *DiscoveryOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}
	if o.LoadProfile && o.BrokerProfile == "" {
		errs = append(errs, errors.New("discovery.broker-profile must be set when discovery.load-profile is enabled"))
	}
	return errs
}

// AddFlags adds flags for DiscoveryOptions to the specified FlagSet.
func (o *DiscoveryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.LoadProfile, "discovery.load-profile", o.LoadProfile, "Publish the listeners of the local broker profile.")
	fs.StringVar(&o.BrokerProfile, "discovery.broker-profile", o.BrokerProfile, "Path of the mosquitto broker profile.")
	fs.BoolVar(&o.WaitForProfile, "discovery.wait-for-profile", o.WaitForProfile, "Wait for the broker profile to appear when it does not exist at start.")
}

// ToDiscoveryOptions converts the flags into discovery options.
func (o *DiscoveryOptions) ToDiscoveryOptions() discovery.Options {
	return discovery.Options{
		LoadProfile:    o.LoadProfile,
		ProfilePath:    o.BrokerProfile,
		WaitForProfile: o.WaitForProfile,
	}
}
