package detector

import (
	"context"
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"ddnsd/common"
	"ddnsd/config"
	"ddnsd/log"
	"ddnsd/sources"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

type fakeStrategy struct {
	name string
	ips  map[common.Family]string
	err  error

	mu    sync.Mutex
	calls int
}

func (f *fakeStrategy) Typename() string { return f.name }

func (f *fakeStrategy) Lookup(_ context.Context, family common.Family) (netip.Addr, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.err != nil {
		return netip.Addr{}, f.err
	}
	s, ok := f.ips[family]
	if !ok {
		return netip.Addr{}, errors.New("no address")
	}
	return netip.MustParseAddr(s), nil
}

// slowStrategy answers IPv4 after a delay, cancelled or not, and fails IPv6 at once.
type slowStrategy struct{ delay time.Duration }

func (slowStrategy) Typename() string { return "slow" }

func (s slowStrategy) Lookup(ctx context.Context, family common.Family) (netip.Addr, error) {
	if family == common.IPv6 {
		return netip.Addr{}, errors.New("no route")
	}
	time.Sleep(s.delay)
	if err := ctx.Err(); err != nil {
		return netip.Addr{}, err
	}
	return netip.MustParseAddr("1.2.3.4"), nil
}

func (f *fakeStrategy) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock { return &clock{t: time.Unix(1700000000, 0)} }

func TestDetectCachesWithinTTL(t *testing.T) {
	ctx := log.Nop()
	c := newClock()
	s := &fakeStrategy{name: "http", ips: map[common.Family]string{common.IPv4: "1.2.3.4"}}
	d := New([]sources.Interface{s}, WithClock(c.now), WithTTL(time.Minute))

	first, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	assert.Equal(t, first.Method, "http")
	assert.Equal(t, first.IPv4.String(), "1.2.3.4")

	c.advance(59 * time.Second)
	second, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	assert.Equal(t, second.Method, MethodCache)
	assert.Equal(t, second.IPv4, first.IPv4)
	assert.Equal(t, s.Calls(), 1)

	c.advance(time.Second)
	third, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	assert.Equal(t, third.Method, "http")
	assert.Equal(t, s.Calls(), 2)
}

func TestClearCacheForcesLiveDetection(t *testing.T) {
	ctx := log.Nop()
	s := &fakeStrategy{name: "http", ips: map[common.Family]string{common.IPv4: "1.2.3.4"}}
	d := New([]sources.Interface{s}, WithClock(newClock().now))

	_, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	d.ClearCache()
	snap, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	assert.Equal(t, snap.Method, "http")
	assert.Equal(t, s.Calls(), 2)
}

func TestRefreshSkipsCacheRead(t *testing.T) {
	ctx := log.Nop()
	s := &fakeStrategy{name: "http", ips: map[common.Family]string{common.IPv4: "1.2.3.4"}}
	d := New([]sources.Interface{s}, WithClock(newClock().now))

	_, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)

	s.ips[common.IPv4] = "5.6.7.8"
	snap, err := d.Refresh(ctx, common.IPv4)
	assert.NilError(t, err)
	assert.Equal(t, snap.IPv4.String(), "5.6.7.8")

	cached, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	assert.Equal(t, cached.Method, MethodCache)
	assert.Equal(t, cached.IPv4.String(), "5.6.7.8")
}

func TestFallbackOrder(t *testing.T) {
	ctx := log.Nop()
	httpEcho := &fakeStrategy{name: "http", err: errors.New("all endpoints failed")}
	dnsEcho := &fakeStrategy{name: "dns", ips: map[common.Family]string{common.IPv4: "9.9.9.9"}}
	iface := &fakeStrategy{name: "interface", ips: map[common.Family]string{common.IPv4: "192.168.1.2"}}
	d := New([]sources.Interface{httpEcho, dnsEcho, iface})

	snap, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	assert.Equal(t, snap.Method, "dns")
	assert.Equal(t, snap.IPv4.String(), "9.9.9.9")
	assert.Equal(t, httpEcho.Calls(), 1)
	assert.Equal(t, iface.Calls(), 0)
}

func TestWrongFamilyIsRejected(t *testing.T) {
	ctx := log.Nop()
	bad := &fakeStrategy{name: "http", ips: map[common.Family]string{common.IPv6: "1.2.3.4"}}
	good := &fakeStrategy{name: "interface", ips: map[common.Family]string{common.IPv6: "2001:db8::1"}}
	d := New([]sources.Interface{bad, good})

	snap, err := d.Detect(ctx, common.IPv6)
	assert.NilError(t, err)
	assert.Equal(t, snap.Method, "interface")
}

func TestExhausted(t *testing.T) {
	ctx := log.Nop()
	d := New([]sources.Interface{
		&fakeStrategy{name: "http", err: errors.New("down")},
		&fakeStrategy{name: "dns", err: errors.New("down")},
	})

	_, err := d.Detect(ctx, common.IPv4)
	assert.Assert(t, errors.Is(err, ErrDetectionExhausted))
}

func TestFamilyCachePreserved(t *testing.T) {
	ctx := log.Nop()
	c := newClock()
	s := &fakeStrategy{name: "http", ips: map[common.Family]string{
		common.IPv4: "1.2.3.4",
		common.IPv6: "2001:db8::1",
	}}
	d := New([]sources.Interface{s}, WithClock(c.now))

	_, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	c.advance(10 * time.Second)
	_, err = d.Detect(ctx, common.IPv6)
	assert.NilError(t, err)

	v4, err := d.Detect(ctx, common.IPv4)
	assert.NilError(t, err)
	assert.Equal(t, v4.Method, MethodCache)
	assert.Equal(t, v4.IPv4.String(), "1.2.3.4")
	assert.Equal(t, v4.CapturedAt, c.t)
	assert.Equal(t, s.Calls(), 2)
}

func TestDetectAll(t *testing.T) {
	ctx := log.Nop()

	t.Run("both", func(t *testing.T) {
		d := New([]sources.Interface{&fakeStrategy{name: "http", ips: map[common.Family]string{
			common.IPv4: "1.2.3.4",
			common.IPv6: "2001:db8::1",
		}}})
		snap, err := d.DetectAll(ctx)
		assert.NilError(t, err)
		assert.Equal(t, snap.Method, MethodCombined)
		assert.Equal(t, snap.IPv4.String(), "1.2.3.4")
		assert.Equal(t, snap.IPv6.String(), "2001:db8::1")
		assert.Equal(t, snap.Primary().String(), "1.2.3.4")
	})

	t.Run("partial", func(t *testing.T) {
		d := New([]sources.Interface{&fakeStrategy{name: "http", ips: map[common.Family]string{
			common.IPv6: "2001:db8::1",
		}}})
		snap, err := d.DetectAll(ctx)
		assert.NilError(t, err)
		assert.Assert(t, !snap.IPv4.IsValid())
		assert.Equal(t, snap.Primary().String(), "2001:db8::1")
	})

	t.Run("failure does not cancel sibling", func(t *testing.T) {
		d := New([]sources.Interface{slowStrategy{delay: 50 * time.Millisecond}})
		snap, err := d.DetectAll(ctx)
		assert.NilError(t, err)
		assert.Equal(t, snap.IPv4.String(), "1.2.3.4")
		assert.Assert(t, !snap.IPv6.IsValid())
	})

	t.Run("none", func(t *testing.T) {
		d := New([]sources.Interface{&fakeStrategy{name: "http", err: errors.New("down")}})
		_, err := d.DetectAll(ctx)
		assert.Assert(t, errors.Is(err, ErrDetectionExhausted))
		assert.Check(t, is.ErrorContains(err, common.IPv4.String()))
		assert.Check(t, is.ErrorContains(err, common.IPv6.String()))
	})
}

func TestFromConfig(t *testing.T) {
	_, err := FromConfig(log.Nop(), config.Detector{Strategies: []string{"carrier-pigeon"}})
	assert.Check(t, is.ErrorContains(err, `unknown detection strategy "carrier-pigeon"`))

	d, err := FromConfig(log.Nop(), config.Detector{Strategies: []string{"interface"}})
	assert.NilError(t, err)
	assert.Equal(t, len(d.strategies), 1)
	assert.Equal(t, d.ttl, DefaultTTL)
}
