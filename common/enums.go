package common

import (
	"errors"
	"fmt"
	"strings"
)

type Family int

const (
	IPv4 Family = iota
	IPv6
)

// Families lists every supported address family in preference order.
var Families = []Family{IPv4, IPv6}

func (f *Family) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "4", "v4", "ipv4", "a":
		*f = IPv4
	case "6", "v6", "ipv6", "aaaa":
		*f = IPv6
	default:
		return errors.New("invalid IP family")
	}
	return nil
}

func (f Family) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

func (f Family) String() string {
	switch f {
	case IPv4:
		return "IPv4"
	case IPv6:
		return "IPv6"
	default:
		return fmt.Sprintf("unknown<%d>", int(f))
	}
}

// Network suffixes a dial network such as "tcp" or "udp" with the family digit.
func (f Family) Network(base string) string {
	switch f {
	case IPv4:
		return base + "4"
	case IPv6:
		return base + "6"
	default:
		return base
	}
}

// RecordType is the DNS record type holding addresses of the family.
func (f Family) RecordType() string {
	if f == IPv6 {
		return "AAAA"
	}
	return "A"
}
