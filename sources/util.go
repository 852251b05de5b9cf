package sources

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"reflect"

	"ddnsd/common"
	"ddnsd/log"
)

type transportDialer func(ctx context.Context, network, addr string) (net.Conn, error)

func pinFamily(family common.Family) func(upstream transportDialer) transportDialer {
	return func(upstream transportDialer) transportDialer {
		return func(ctx context.Context, network, addr string) (net.Conn, error) {
			return upstream(ctx, family.Network(network), addr)
		}
	}
}

func wrapClientDialer(ctx context.Context, client *http.Client, wrapperBuilder func(upstream transportDialer) transportDialer) (*http.Client, error) {
	if client == nil {
		client = http.DefaultClient
	}

	transport := http.DefaultTransport.(*http.Transport)
	if client.Transport != nil {
		t, ok := client.Transport.(*http.Transport)
		if !ok {
			log.S(ctx).Errorw("found unknown custom http.Client.Transport",
				"transport_type", reflect.TypeOf(client.Transport).String())
			return nil, fmt.Errorf("unknown custom http.Client.Transport")
		}

		transport = t
	}

	transport = transport.Clone()
	dial := transport.DialContext
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	transport.DialContext = wrapperBuilder(dial)

	if transport.DialTLSContext != nil {
		transport.DialTLSContext = wrapperBuilder(transport.DialTLSContext)
	}

	clientCopy := *client
	clientCopy.Transport = transport
	return &clientCopy, nil
}
