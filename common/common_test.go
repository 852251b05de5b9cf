package common

import (
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestFamily(t *testing.T) {
	for in, want := range map[string]Family{"ipv4": IPv4, "4": IPv4, "A": IPv4, "IPv6": IPv6, "aaaa": IPv6, "v6": IPv6} {
		var f Family
		assert.NilError(t, f.UnmarshalText([]byte(in)), in)
		assert.Equal(t, f, want, in)
	}

	var f Family
	assert.ErrorContains(t, f.UnmarshalText([]byte("ipv5")), "invalid IP family")

	assert.Equal(t, IPv4.Network("tcp"), "tcp4")
	assert.Equal(t, IPv6.Network("udp"), "udp6")
	assert.Equal(t, IPv6.RecordType(), "AAAA")
	assert.Equal(t, Family(7).String(), "unknown<7>")
}

func TestDuration(t *testing.T) {
	var d Duration
	assert.NilError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, time.Duration(d), 90*time.Second)
	assert.ErrorContains(t, d.UnmarshalText([]byte("-1s")), "positive")

	assert.Equal(t, Duration(0).Or(time.Minute), time.Minute)
	assert.Equal(t, d.Or(time.Minute), 90*time.Second)
}

func TestNormalizeServer(t *testing.T) {
	for in, want := range map[string]string{
		"208.67.222.222":      "208.67.222.222:53",
		"208.67.222.222:5353": "208.67.222.222:5353",
		"2620:119:35::35":     "[2620:119:35::35]:53",
		"[2620:119:35::35]":   "[2620:119:35::35]:53",
		"[::1]:5353":          "[::1]:5353",
		"dns.example":         "dns.example:53",
	} {
		assert.Equal(t, NormalizeServer(in, "53"), want, in)
	}
}

func TestWeakDecodeMap(t *testing.T) {
	var out struct {
		Family  Family   `mapstructure:"family"`
		TTL     Duration `mapstructure:"ttl"`
		Port    int      `mapstructure:"port"`
		Enabled bool     `mapstructure:"enabled"`
	}

	assert.NilError(t, WeakDecodeMap(map[string]any{
		"family":  "ipv6",
		"ttl":     "5s",
		"port":    "8053",
		"enabled": 1,
	}, &out))
	assert.Equal(t, out.Family, IPv6)
	assert.Equal(t, time.Duration(out.TTL), 5*time.Second)
	assert.Equal(t, out.Port, 8053)
	assert.Assert(t, out.Enabled)
}
