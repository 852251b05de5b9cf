package sources

import (
	"context"
	"fmt"
	"net"
	"net/netip"

	"ddnsd/common"
	"ddnsd/config"
	"ddnsd/log"

	"go.uber.org/zap"
)

// networkInterface reads local addresses. It makes no network call and may
// return a private address.
type networkInterface struct {
	iface string
	addrs func(iface string) ([]net.Addr, error)
}

func (s *networkInterface) Typename() string {
	return "interface"
}

func interfaceAddrs(iface string) ([]net.Addr, error) {
	if iface == "" {
		return net.InterfaceAddrs()
	}

	i, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, err
	}
	return i.Addrs()
}

func (s *networkInterface) Lookup(ctx context.Context, family common.Family) (netip.Addr, error) {
	ctx = log.SWith(ctx, "interface", s.iface, "family", family)

	addrs, err := s.addrs(s.iface)
	if err != nil {
		log.S(ctx).Warnw("get address failed", zap.Error(err))
		return netip.Addr{}, fmt.Errorf("get address failed: %w", err)
	}

	for _, addr := range addrs {
		var raw net.IP
		switch a := addr.(type) {
		case *net.IPNet:
			raw = a.IP
		case *net.IPAddr:
			raw = a.IP
		default:
			continue
		}

		ip, ok := netip.AddrFromSlice(raw)
		if !ok {
			continue
		}
		ip = ip.Unmap()

		switch {
		case ip.Is4() != (family == common.IPv4):
			continue
		case ip.IsLoopback(), ip.IsLinkLocalUnicast(), ip.IsUnspecified(), ip.IsMulticast():
			log.S(ctx).Debugw("discard IP", log.IP(ip))
			continue
		}

		log.S(ctx).Debugw("got ip", log.IP(ip))
		return ip, nil
	}

	log.S(ctx).Warnw("no eligible IP found", "count", len(addrs))
	return netip.Addr{}, fmt.Errorf("no eligible %s address on local interfaces", family)
}

func newInterface(_ context.Context, c config.Detector) (Interface, error) {
	return &networkInterface{iface: c.Interface.Name, addrs: interfaceAddrs}, nil
}
