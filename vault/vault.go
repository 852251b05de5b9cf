package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"ddnsd/common"
	"ddnsd/config"
	"ddnsd/ddns"
	"ddnsd/log"

	"go.uber.org/zap"
)

var ErrNoCredentials = errors.New("no credentials configured")

// Config resolves provider credentials from the [[credential]] config
// entries. Values may reference environment variables as $NAME or ${NAME}.
type Config struct {
	mu         sync.RWMutex
	byProvider map[string]ddns.Credentials
	byDomain   map[string]ddns.Credentials
}

func key(provider, domainID string) string {
	return strings.ToLower(provider) + "@" + domainID
}

func New(ctx context.Context, entries []config.Credential) (*Config, error) {
	v := &Config{}
	if err := v.Load(ctx, entries); err != nil {
		return nil, err
	}
	return v, nil
}

// Load replaces every credential held by v. On error v is left unchanged.
func (v *Config) Load(ctx context.Context, entries []config.Credential) error {
	ctx = log.SWith(ctx, log.Stage("init:vault"))
	byProvider := map[string]ddns.Credentials{}
	byDomain := map[string]ddns.Credentials{}

	for i, e := range entries {
		cred, err := decode(e)
		if err != nil {
			log.S(ctx).Errorw("failed decoding credential", "index", i, log.Provider(e.Provider), zap.Error(err))
			return fmt.Errorf("credential #%d (%s): %w", i, e.Provider, err)
		}

		if e.Domain != "" {
			byDomain[key(cred.Provider, e.Domain)] = cred
		} else {
			byProvider[cred.Provider] = cred
		}
		log.S(ctx).Debugw("credential loaded", log.Provider(cred.Provider), "domain", e.Domain, "extra_keys", len(cred.Extra))
	}

	v.mu.Lock()
	v.byProvider, v.byDomain = byProvider, byDomain
	v.mu.Unlock()
	return nil
}

func decode(e config.Credential) (ddns.Credentials, error) {
	var f config.CredentialFields
	if err := common.WeakDecodeMap(e.Config, &f); err != nil {
		return ddns.Credentials{}, err
	}

	c := ddns.Credentials{
		Provider:  strings.ToLower(e.Provider),
		APIKey:    os.ExpandEnv(f.APIKey),
		APISecret: os.ExpandEnv(f.APISecret),
		AccessKey: os.ExpandEnv(f.AccessKey),
		Region:    os.ExpandEnv(f.Region),
	}
	if len(f.Extra) != 0 {
		c.Extra = make(map[string]string, len(f.Extra))
		for k, v := range f.Extra {
			c.Extra[k] = os.ExpandEnv(fmt.Sprint(v))
		}
	}
	return c, nil
}

// Resolve returns the credentials scoped to domainID if any, else the
// provider-wide entry.
func (v *Config) Resolve(_ context.Context, provider, domainID string) (ddns.Credentials, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if c, ok := v.byDomain[key(provider, domainID)]; ok {
		return c, nil
	}
	if c, ok := v.byProvider[strings.ToLower(provider)]; ok {
		return c, nil
	}
	return ddns.Credentials{}, fmt.Errorf("%s for domain %q: %w", provider, domainID, ErrNoCredentials)
}
