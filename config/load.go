package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

const (
	DefaultControlListen  = "127.0.0.1:9000"
	DefaultHealthListen   = ":8080"
	DefaultUpdateInterval = 300
)

// Load reads the config file at path, choosing the decoder by extension.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := &Config{}
	if err := Decode(f, filepath.Ext(path), c); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func Decode(r io.Reader, ext string, c *Config) error {
	switch strings.ToLower(ext) {
	case ".toml":
		return toml.NewDecoder(r).Decode(c)
	case ".yaml", ".yml":
		return yaml.NewDecoder(r).Decode(c)
	case ".json":
		return json.NewDecoder(r).Decode(c)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

func (c *Config) applyDefaults() {
	if c.Service.ControlListen == "" {
		c.Service.ControlListen = DefaultControlListen
	}
	if c.Service.HealthListen == "" {
		c.Service.HealthListen = DefaultHealthListen
	}

	for i := range c.Domain {
		d := &c.Domain[i]
		if d.RecordType == "" {
			d.RecordType = "A"
		}
		if d.ID == "" {
			d.ID = d.Key()
		}
		if d.UpdateInterval == 0 {
			d.UpdateInterval = DefaultUpdateInterval
		}
	}
}

func (c *Config) Validate() error {
	var errs []error
	seen := map[string]bool{}

	for _, d := range c.Domain {
		switch {
		case d.Name == "":
			errs = append(errs, fmt.Errorf("domain %q: name is required", d.ID))
		case d.Provider == "":
			errs = append(errs, fmt.Errorf("domain %q: provider is required", d.ID))
		case d.UpdateInterval <= 0:
			errs = append(errs, fmt.Errorf("domain %q: update_interval must be positive", d.ID))
		case seen[d.ID]:
			errs = append(errs, fmt.Errorf("domain %q: duplicated id", d.ID))
		}
		seen[d.ID] = true
	}

	for i, cred := range c.Credential {
		if cred.Provider == "" {
			errs = append(errs, fmt.Errorf("credential #%d: provider is required", i))
		}
	}

	return errors.Join(errs...)
}

// Key derives a stable id from the record coordinates.
func (d Domain) Key() string {
	sub := d.Subdomain
	if sub == "" {
		sub = "@"
	}
	return strings.ToLower(fmt.Sprintf("%s.%s/%s", sub, d.Name, d.RecordType))
}

func (d Domain) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

func (s Service) ShouldAutostart() bool {
	return s.Autostart == nil || *s.Autostart
}
