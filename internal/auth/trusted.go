package auth

import (
	"fmt"
	"net"
	"strings"

	"github.com/go-playground/validator/v10"
)

// TrustedSubnets holds the CIDR ranges configured as implicitly trusted
// (admitted without an API key or one-shot token), per spec.md §4.6.
type TrustedSubnets struct {
	nets []*net.IPNet
}

var subnetValidator = newSubnetValidator()

func newSubnetValidator() *validator.Validate {
	v := validator.New()
	// Registered once; exercised at config-apply time against every
	// configured trusted_clients entry before any subnet is accepted.
	_ = v.RegisterValidation("cidr_slash24_zero_host", validateSlash24ZeroHost)
	return v
}

type trustedClientCIDR struct {
	Value string `validate:"required,cidr_slash24_zero_host"`
}

// validateSlash24ZeroHost enforces that a CIDR string both parses and ends
// in ".0/24" — i.e. a /24 network whose address has a zero host part, the
// exact shape spec.md §4.6 requires ("validated to end in .0/24 at config
// load — else config error").
func validateSlash24ZeroHost(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if !strings.HasSuffix(value, ".0/24") {
		return false
	}
	ip, ipNet, err := net.ParseCIDR(value)
	if err != nil {
		return false
	}
	return ip.Equal(ipNet.IP)
}

// NewTrustedSubnets parses and validates each CIDR string in cidrs,
// returning a config error (not a partially built TrustedSubnets) on the
// first invalid entry.
func NewTrustedSubnets(cidrs []string) (*TrustedSubnets, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		if err := subnetValidator.Struct(trustedClientCIDR{Value: c}); err != nil {
			return nil, fmt.Errorf("invalid trusted_clients entry %q: must be a .0/24 CIDR: %w", c, err)
		}
		_, ipNet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted_clients entry %q: %w", c, err)
		}
		nets = append(nets, ipNet)
	}
	return &TrustedSubnets{nets: nets}, nil
}

// Contains reports whether ip falls inside any configured subnet.
func (t *TrustedSubnets) Contains(ip net.IP) bool {
	for _, n := range t.nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
