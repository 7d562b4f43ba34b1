package options

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/pflag"
)

// IOptions is implemented by every option group.
type IOptions interface {
	// Validate returns every problem found instead of stopping at the first.
	Validate() []error

	// AddFlags binds the group's fields to fs.
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// ValidateAddress checks a host:port listen address.
func ValidateAddress(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%q is not in a valid format (host:port): %w", addr, err)
	}
	if host != "" && net.ParseIP(host) == nil {
		if _, err := net.LookupHost(host); err != nil {
			return fmt.Errorf("%q is not a valid IP address or resolvable host: %w", host, err)
		}
	}
	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return fmt.Errorf("%q is not a valid port number", port)
	}
	return nil
}
