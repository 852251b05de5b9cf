package config

import (
	"ddnsd/common"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	Service    Service      `toml:"service" json:"service" yaml:"service"`
	Log        Log          `toml:"log" json:"log" yaml:"log"`
	Detector   Detector     `toml:"detector" json:"detector" yaml:"detector"`
	Domain     []Domain     `toml:"domain" json:"domain" yaml:"domain"`
	Credential []Credential `toml:"credential" json:"credential" yaml:"credential"`
}

type Service struct {
	Name          string `toml:"name" json:"name" yaml:"name"`
	ControlListen string `toml:"control_listen" json:"control_listen" yaml:"control_listen"`
	HealthListen  string `toml:"health_listen" json:"health_listen" yaml:"health_listen"`
	StateFile     string `toml:"state_file" json:"state_file" yaml:"state_file"`
	// Autostart starts the scheduler at boot. Defaults to true.
	Autostart *bool `toml:"autostart" json:"autostart" yaml:"autostart"`
}

type Log struct {
	Level     *zapcore.Level `toml:"level" json:"level" yaml:"level"`
	Encoding  *string        `toml:"encoding" json:"encoding" yaml:"encoding"`
	InfoPath  *[]string      `toml:"info_path" json:"info_path" yaml:"info_path"`
	ErrorPath *[]string      `toml:"error_path" json:"error_path" yaml:"error_path"`
}

type Detector struct {
	CacheTTL common.Duration `toml:"cache_ttl" json:"cache_ttl" yaml:"cache_ttl"`
	// Strategies lists the strategy names in the order they are tried.
	Strategies []string        `toml:"strategies" json:"strategies" yaml:"strategies"`
	HTTP       HTTPStrategy    `toml:"http" json:"http" yaml:"http"`
	DNS        DNSStrategy     `toml:"dns" json:"dns" yaml:"dns"`
	Interface  InterfaceConfig `toml:"interface" json:"interface" yaml:"interface"`
}

type HTTPStrategy struct {
	Timeout common.Duration `toml:"timeout" json:"timeout" yaml:"timeout"`
	IPv4    []string        `toml:"ipv4" json:"ipv4" yaml:"ipv4"`
	IPv6    []string        `toml:"ipv6" json:"ipv6" yaml:"ipv6"`
}

type DNSStrategy struct {
	Timeout  common.Duration `toml:"timeout" json:"timeout" yaml:"timeout"`
	Hostname string          `toml:"hostname" json:"hostname" yaml:"hostname"`
	IPv4     []string        `toml:"ipv4" json:"ipv4" yaml:"ipv4"`
	IPv6     []string        `toml:"ipv6" json:"ipv6" yaml:"ipv6"`
}

type InterfaceConfig struct {
	// Name restricts the lookup to a single interface.
	Name string `toml:"name" json:"name" yaml:"name"`
}

type Domain struct {
	ID             string `toml:"id" json:"id" yaml:"id"`
	Name           string `toml:"name" json:"name" yaml:"name"`
	Subdomain      string `toml:"subdomain" json:"subdomain" yaml:"subdomain"`
	Provider       string `toml:"provider" json:"provider" yaml:"provider"`
	RecordType     string `toml:"record_type" json:"record_type" yaml:"record_type"`
	UpdateInterval int    `toml:"update_interval" json:"update_interval" yaml:"update_interval"`
	Enabled        *bool  `toml:"enabled" json:"enabled" yaml:"enabled"`
}

type Credential struct {
	Provider string `toml:"provider" json:"provider" yaml:"provider"`
	// Domain scopes the entry to a single domain id.
	Domain string         `toml:"domain,omitempty" json:"domain,omitempty" yaml:"domain,omitempty"`
	Config map[string]any `toml:"config" json:"config" yaml:"config"`
}

type CredentialFields struct {
	APIKey    string         `mapstructure:"api_key"`
	APISecret string         `mapstructure:"api_secret"`
	AccessKey string         `mapstructure:"access_key"`
	Region    string         `mapstructure:"region"`
	Extra     map[string]any `mapstructure:",remain"`
}
