package log

import (
	"net/netip"
	"unicode/utf8"

	"go.uber.org/zap"
)

func ByteField(key string, data []byte) zap.Field {
	if utf8.Valid(data) {
		return zap.ByteString(key, data)
	}
	return zap.Binary(key, data)
}

func IP(ip netip.Addr) zap.Field {
	if !ip.IsValid() {
		return zap.Skip()
	}
	return zap.Stringer("ip", ip)
}

func Stage(stage string) zap.Field {
	return zap.String("stage", stage)
}

func Domain(id string) zap.Field {
	return zap.String("domain_id", id)
}

func Provider(id string) zap.Field {
	return zap.String("provider", id)
}
