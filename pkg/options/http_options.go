package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HttpOptions)(nil)

// HttpOptions configures the health, metrics and debug HTTP server.
type HttpOptions struct {
	// Enabled turns the server off when false.
	Enabled bool `json:"enabled" mapstructure:"enabled"`

	// Address with server address.
	Addr string `json:"addr" mapstructure:"addr"`

	// Timeout bounds reading a request and writing its response.
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout time.Duration `json:"shutdown-timeout" mapstructure:"shutdown-timeout"`
}

// NewHttpOptions creates a HttpOptions object with default parameters.
func NewHttpOptions() *HttpOptions {
	return &HttpOptions{
		Enabled:         true,
		Addr:            "0.0.0.0:9464",
		Timeout:         30 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HttpOptions) Validate() []error {
	if o == nil || !o.Enabled {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.Timeout <= 0 {
		errors = append(errors, fmt.Errorf("http.timeout %s must be positive", o.Timeout))
	}

	return errors
}

// AddFlags adds flags related to the HTTP server to the specified FlagSet.
func (o *HttpOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "http.enabled", o.Enabled, "Serve health, metrics and debug endpoints.")
	fs.StringVar(&o.Addr, "http.addr", o.Addr, "Specify the HTTP server bind address and port.")
	fs.DurationVar(&o.Timeout, "http.timeout", o.Timeout, "Timeout for reading requests and writing responses.")
	fs.DurationVar(&o.ShutdownTimeout, "http.shutdown-timeout", o.ShutdownTimeout, "Timeout for graceful shutdown.")
}
