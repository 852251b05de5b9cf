package sources

import (
	"context"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"ddnsd/common"
	"ddnsd/config"
)

// Interface is one way to find the host's address of a family.
type Interface interface {
	Lookup(ctx context.Context, family common.Family) (netip.Addr, error)
	Typename() string
}

var Sources = map[string]func(ctx context.Context, c config.Detector) (Interface, error){
	"http":      newSimple,
	"dns":       newDNS,
	"interface": newInterface,
}

// DefaultOrder is the strategy priority used when none is configured.
var DefaultOrder = []string{"http", "dns", "interface"}

// New builds the strategies named in c.Strategies, in order.
func New(ctx context.Context, c config.Detector) ([]Interface, error) {
	order := c.Strategies
	if len(order) == 0 {
		order = DefaultOrder
	}

	var out []Interface
	for _, name := range order {
		create, ok := Sources[strings.ToLower(name)]
		if !ok {
			known := make([]string, 0, len(Sources))
			for k := range Sources {
				known = append(known, k)
			}
			sort.Strings(known)
			return nil, fmt.Errorf("unknown detection strategy %q (known: %s)", name, strings.Join(known, ", "))
		}

		s, err := create(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed creating strategy %s: %w", name, err)
		}
		out = append(out, s)
	}
	return out, nil
}

// ValidIPv4 accepts four dot-separated decimal octets.
func ValidIPv4(s string) bool {
	if strings.Contains(s, ":") {
		return false
	}
	ip, err := netip.ParseAddr(s)
	return err == nil && ip.Is4()
}

// ValidIPv6 accepts a bare IPv6 address without brackets, prefix or zone.
func ValidIPv6(s string) bool {
	if !strings.Contains(s, ":") || strings.ContainsAny(s, "[]/%") {
		return false
	}
	ip, err := netip.ParseAddr(s)
	return err == nil && ip.Is6()
}

// Parse validates s as an address of family.
func Parse(s string, family common.Family) (netip.Addr, error) {
	s = strings.TrimSpace(s)

	var valid bool
	switch family {
	case common.IPv4:
		valid = ValidIPv4(s)
	case common.IPv6:
		valid = ValidIPv6(s)
	}
	if !valid {
		return netip.Addr{}, fmt.Errorf("%q is not a valid %s address", s, family)
	}
	return netip.MustParseAddr(s), nil
}
