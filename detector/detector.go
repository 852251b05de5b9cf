package detector

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"ddnsd/common"
	"ddnsd/config"
	"ddnsd/log"
	"ddnsd/metrics"
	"ddnsd/sources"

	"go.uber.org/zap"
)

const (
	MethodCache    = "cache"
	MethodCombined = "combined"

	DefaultTTL = 60 * time.Second
)

var ErrDetectionExhausted = errors.New("all detection strategies failed")

// Snapshot is the result of one detection. A zero address means the family
// was not resolved.
type Snapshot struct {
	IPv4       netip.Addr `json:"ipv4,omitempty"`
	IPv6       netip.Addr `json:"ipv6,omitempty"`
	Method     string     `json:"method"`
	CapturedAt time.Time  `json:"captured_at"`
}

// Primary prefers IPv4.
func (s Snapshot) Primary() netip.Addr {
	if s.IPv4.IsValid() {
		return s.IPv4
	}
	return s.IPv6
}

func (s Snapshot) Get(family common.Family) netip.Addr {
	if family == common.IPv6 {
		return s.IPv6
	}
	return s.IPv4
}

func (s *Snapshot) set(family common.Family, ip netip.Addr) {
	if family == common.IPv6 {
		s.IPv6 = ip
	} else {
		s.IPv4 = ip
	}
}

type Option func(*Detector)

func WithTTL(ttl time.Duration) Option {
	return func(d *Detector) {
		if ttl > 0 {
			d.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		d.now = now
	}
}

// Detector finds the host's public address by trying strategies in order.
// One cache entry is shared by every caller.
type Detector struct {
	strategies []sources.Interface
	ttl        time.Duration
	now        func() time.Time

	mu    sync.RWMutex
	cache Snapshot
}

func New(strategies []sources.Interface, opts ...Option) *Detector {
	d := &Detector{
		strategies: strategies,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func FromConfig(ctx context.Context, c config.Detector, opts ...Option) (*Detector, error) {
	ctx = log.SWith(ctx, log.Stage("init:detector"))

	strategies, err := sources.New(ctx, c)
	if err != nil {
		log.S(ctx).Errorw("failed creating strategies", zap.Error(err))
		return nil, err
	}

	opts = append([]Option{WithTTL(c.CacheTTL.Or(DefaultTTL))}, opts...)
	return New(strategies, opts...), nil
}

func (d *Detector) cached(family common.Family) (Snapshot, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ip := d.cache.Get(family)
	if !ip.IsValid() || d.now().Sub(d.cache.CapturedAt) >= d.ttl {
		return Snapshot{}, false
	}

	s := Snapshot{Method: MethodCache, CapturedAt: d.cache.CapturedAt}
	s.set(family, ip)
	return s, true
}

func (d *Detector) store(family common.Family, ip netip.Addr, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache.set(family, ip)
	d.cache.CapturedAt = at
}

// Detect returns the address of family, from the cache while it is fresh.
func (d *Detector) Detect(ctx context.Context, family common.Family) (Snapshot, error) {
	if s, ok := d.cached(family); ok {
		log.S(ctx).Debugw("cache hit", "family", family, log.IP(s.Get(family)))
		metrics.IncrementDetection(MethodCache, family.String(), nil)
		return s, nil
	}
	return d.Refresh(ctx, family)
}

// Refresh always runs the strategies and stores the result.
func (d *Detector) Refresh(ctx context.Context, family common.Family) (Snapshot, error) {
	ctx = log.SWith(ctx, log.Stage("detect"), "family", family)

	for _, s := range d.strategies {
		start := time.Now()
		ip, err := s.Lookup(ctx, family)
		if err == nil && ip.IsValid() && ip.Is4() != (family == common.IPv4) {
			err = fmt.Errorf("strategy returned %s for %s", ip, family)
		}
		metrics.IncrementDetection(s.Typename(), family.String(), err)
		if err != nil {
			log.S(ctx).Warnw("strategy failed", "strategy", s.Typename(), log.Elapsed("elapsed", start), zap.Error(err))
			continue
		}

		now := d.now()
		d.store(family, ip, now)
		log.S(ctx).Infow("resolved ip", log.IP(ip), "strategy", s.Typename(), log.Elapsed("elapsed", start))

		snap := Snapshot{Method: s.Typename(), CapturedAt: now}
		snap.set(family, ip)
		return snap, nil
	}

	log.S(ctx).Errorw("all strategies failed, unable to get ip", "count", len(d.strategies))
	return Snapshot{}, fmt.Errorf("%s: %w", family, ErrDetectionExhausted)
}

// DetectAll resolves both families concurrently. It fails only when neither
// family resolves.
func (d *Detector) DetectAll(ctx context.Context) (Snapshot, error) {
	var (
		v4, v6     Snapshot
		err4, err6 error
	)

	// One family failing must not cancel the other.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		v4, err4 = d.Detect(ctx, common.IPv4)
	}()
	go func() {
		defer wg.Done()
		v6, err6 = d.Detect(ctx, common.IPv6)
	}()
	wg.Wait()

	if err4 != nil && err6 != nil {
		return Snapshot{}, errors.Join(err4, err6)
	}

	out := Snapshot{
		IPv4:       v4.IPv4,
		IPv6:       v6.IPv6,
		Method:     MethodCombined,
		CapturedAt: v4.CapturedAt,
	}
	if v6.CapturedAt.After(out.CapturedAt) {
		out.CapturedAt = v6.CapturedAt
	}
	return out, nil
}

func (d *Detector) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache = Snapshot{}
}
