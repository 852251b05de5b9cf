package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"ddnsd/common"
	"ddnsd/config"
	"ddnsd/log"

	"go.uber.org/zap"
)

const (
	maxReadSimple         = 4 * 1024
	defaultSimpleTimeout  = 10 * time.Second
	simpleUserAgent       = "ddnsd"
	traceAddressKeyPrefix = "ip="
)

var (
	DefaultIPv4Endpoints = []string{
		"https://api.ipify.org",
		"https://checkip.amazonaws.com",
		"https://icanhazip.com",
		"https://ifconfig.me/ip",
	}
	DefaultIPv6Endpoints = []string{
		"https://api64.ipify.org",
		"https://ifconfig.me/ip",
	}
)

// simple asks plain-text echo endpoints for the caller's address.
type simple struct {
	endpoints map[common.Family][]string
	timeout   time.Duration
	clients   map[common.Family]*http.Client
}

func (s *simple) Typename() string {
	return "http"
}

func (s *simple) client(ctx context.Context, family common.Family) (*http.Client, error) {
	if c, ok := ctx.Value(common.HttpClientKey).(*http.Client); ok && c != nil {
		log.S(ctx).Debug("patching http.Client")
		return wrapClientDialer(ctx, c, pinFamily(family))
	}
	return s.clients[family], nil
}

func (s *simple) Lookup(ctx context.Context, family common.Family) (netip.Addr, error) {
	endpoints := s.endpoints[family]
	if len(endpoints) == 0 {
		return netip.Addr{}, fmt.Errorf("no %s endpoints configured", family)
	}

	client, err := s.client(ctx, family)
	if err != nil {
		return netip.Addr{}, err
	}

	var errs []error
	for _, url := range endpoints {
		ip, err := s.fetch(log.SWith(ctx, "url", url, "family", family), client, url, family)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		return ip, nil
	}

	return netip.Addr{}, fmt.Errorf("all %d endpoints failed: %w", len(endpoints), errors.Join(errs...))
}

func (s *simple) fetch(ctx context.Context, client *http.Client, url string, family common.Family) (result netip.Addr, err error) {
	defer func() {
		if err == nil {
			log.S(ctx).Debugw("got ip", log.IP(result))
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.S(ctx).Errorw("new request failed", zap.Error(err))
		return netip.Addr{}, fmt.Errorf("new request failed: %w", err)
	}
	req.Header.Set("User-Agent", simpleUserAgent)
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := client.Do(req)
	if err != nil {
		log.S(ctx).Warnw("connection failed", zap.Error(err))
		return netip.Addr{}, fmt.Errorf("%s: connection failed: %w", url, err)
	}

	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.S(ctx).Warnw("close body failed", zap.Error(err))
		}
	}(resp.Body)

	if resp.StatusCode != http.StatusOK {
		log.S(ctx).Warnw("unexpected status", "status", resp.StatusCode)
		return netip.Addr{}, fmt.Errorf("%s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReadSimple))
	if err != nil {
		log.S(ctx).Warnw("receiving response failed", zap.Error(err))
		return netip.Addr{}, fmt.Errorf("%s: failed receiving response: %w", url, err)
	}

	ip, err := parseEcho(data, family)
	if err != nil {
		log.S(ctx).Warnw("no IP found in response", log.ByteField("body", data), zap.Error(err))
		return netip.Addr{}, fmt.Errorf("%s: %w", url, err)
	}
	return ip, nil
}

// parseEcho reads the address from a plain echo body, or from the "ip=" line
// of a key=value trace body.
func parseEcho(data []byte, family common.Family) (netip.Addr, error) {
	lines := strings.Split(string(data), "\n")

	for _, line := range lines {
		if v, ok := strings.CutPrefix(strings.TrimSpace(line), traceAddressKeyPrefix); ok {
			return Parse(v, family)
		}
	}

	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			return Parse(line, family)
		}
	}

	return netip.Addr{}, errors.New("empty response")
}

func newSimple(ctx context.Context, c config.Detector) (Interface, error) {
	s := &simple{
		endpoints: map[common.Family][]string{
			common.IPv4: c.HTTP.IPv4,
			common.IPv6: c.HTTP.IPv6,
		},
		timeout: c.HTTP.Timeout.Or(defaultSimpleTimeout),
		clients: map[common.Family]*http.Client{},
	}
	if len(s.endpoints[common.IPv4]) == 0 {
		s.endpoints[common.IPv4] = DefaultIPv4Endpoints
	}
	if len(s.endpoints[common.IPv6]) == 0 {
		s.endpoints[common.IPv6] = DefaultIPv6Endpoints
	}

	for _, f := range common.Families {
		client, err := wrapClientDialer(ctx, http.DefaultClient, pinFamily(f))
		if err != nil {
			return nil, err
		}
		s.clients[f] = client
	}

	log.S(ctx).Debugw("http strategy ready", "ipv4", s.endpoints[common.IPv4], "ipv6", s.endpoints[common.IPv6], "timeout", s.timeout)
	return s, nil
}
