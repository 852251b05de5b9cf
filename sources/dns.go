package sources

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"ddnsd/common"
	"ddnsd/config"
	"ddnsd/log"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

const (
	DefaultEchoHostname = "myip.opendns.com"
	defaultDNSTimeout   = 5 * time.Second
)

var (
	DefaultIPv4Resolvers = []string{"208.67.222.222", "208.67.220.220"}
	DefaultIPv6Resolvers = []string{"2620:119:35::35", "2620:119:53::53"}
)

// dnsEcho resolves a hostname that the resolver answers with the address
// the query came from.
type dnsEcho struct {
	hostname string
	servers  map[common.Family][]string
	timeout  time.Duration
}

func (s *dnsEcho) Typename() string {
	return "dns"
}

func (s *dnsEcho) Lookup(ctx context.Context, family common.Family) (netip.Addr, error) {
	servers := s.servers[family]
	if len(servers) == 0 {
		return netip.Addr{}, fmt.Errorf("no %s resolvers configured", family)
	}

	var errs []error
	for _, server := range servers {
		ip, err := s.query(log.SWith(ctx, "server", server, "family", family), server, family)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return ip, nil
	}
	return netip.Addr{}, fmt.Errorf("all %d resolvers failed: %w", len(servers), errors.Join(errs...))
}

func (s *dnsEcho) query(ctx context.Context, server string, family common.Family) (netip.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	qtype := dns.TypeA
	if family == common.IPv6 {
		qtype = dns.TypeAAAA
	}

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(s.hostname), qtype)
	m.RecursionDesired = true

	client := &dns.Client{Net: family.Network("udp"), Timeout: s.timeout}
	r, _, err := client.ExchangeContext(ctx, m, server)
	if err != nil {
		log.S(ctx).Warnw("dns exchange failed", zap.Error(err))
		return netip.Addr{}, fmt.Errorf("%s: exchange failed: %w", server, err)
	}

	if r.Rcode != dns.RcodeSuccess {
		log.S(ctx).Warnw("dns query rejected", "rcode", dns.RcodeToString[r.Rcode])
		return netip.Addr{}, fmt.Errorf("%s: rcode %s", server, dns.RcodeToString[r.Rcode])
	}

	for _, ans := range r.Answer {
		var raw []byte
		switch rr := ans.(type) {
		case *dns.A:
			raw = rr.A
		case *dns.AAAA:
			raw = rr.AAAA
		default:
			continue
		}

		ip, ok := netip.AddrFromSlice(raw)
		if !ok {
			continue
		}
		ip = ip.Unmap()
		if (family == common.IPv4) == ip.Is4() {
			log.S(ctx).Debugw("got ip", log.IP(ip))
			return ip, nil
		}
	}

	log.S(ctx).Warnw("no address in answer", "answers", len(r.Answer))
	return netip.Addr{}, fmt.Errorf("%s: no %s answer for %s", server, family, s.hostname)
}

func newDNS(ctx context.Context, c config.Detector) (Interface, error) {
	s := &dnsEcho{
		hostname: c.DNS.Hostname,
		servers:  map[common.Family][]string{},
		timeout:  c.DNS.Timeout.Or(defaultDNSTimeout),
	}
	if s.hostname == "" {
		s.hostname = DefaultEchoHostname
	}

	for family, list := range map[common.Family][]string{
		common.IPv4: withDefault(c.DNS.IPv4, DefaultIPv4Resolvers),
		common.IPv6: withDefault(c.DNS.IPv6, DefaultIPv6Resolvers),
	} {
		for _, server := range list {
			s.servers[family] = append(s.servers[family], common.NormalizeServer(server, "53"))
		}
	}

	log.S(ctx).Debugw("dns strategy ready", "hostname", s.hostname, "ipv4", s.servers[common.IPv4], "ipv6", s.servers[common.IPv6])
	return s, nil
}

func withDefault(list, fallback []string) []string {
	if len(list) == 0 {
		return fallback
	}
	return list
}
