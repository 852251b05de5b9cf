package ddns

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"ddnsd/common"
	"ddnsd/log"

	"go.uber.org/zap"
)

const (
	callTimeout     = 30 * time.Second
	maxResponseSize = 1 << 20
)

var defaultClient = &http.Client{Timeout: callTimeout}

func httpClient(ctx context.Context) *http.Client {
	if c, ok := ctx.Value(common.HttpClientKey).(*http.Client); ok && c != nil {
		return c
	}
	return defaultClient
}

// signedAPI issues GET requests whose query carries a canonical signature.
type signedAPI struct {
	provider string
	endpoint *url.URL
	signer   Signer
}

func (a *signedAPI) call(ctx context.Context, params map[string]string) (status int, body []byte, err error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	u := *a.endpoint
	u.RawQuery = a.signer.Query(params)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		log.S(ctx).Errorw("new request failed", zap.Error(err), log.Internal)
		return 0, nil, newError(a.provider, InvalidConfig, "build request", err)
	}

	start := time.Now()
	resp, err := httpClient(ctx).Do(req)
	if err != nil {
		log.S(ctx).Warnw("request failed", "action", params["Action"], zap.Error(err))
		return 0, nil, newError(a.provider, NetworkError, "request failed", err)
	}

	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			log.S(ctx).Warnw("close body failed", zap.Error(err))
		}
	}(resp.Body)

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		log.S(ctx).Warnw("receiving response failed", zap.Error(err))
		return 0, nil, newError(a.provider, NetworkError, "read response", err)
	}

	log.S(ctx).Debugw("vendor call finished", "action", params["Action"], "status", resp.StatusCode, log.Elapsed("took", start))
	return resp.StatusCode, body, nil
}

func parseEndpoint(provider, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, newError(provider, InvalidConfig, "bad endpoint "+raw, err)
	}
	return u, nil
}
