// Package config loads account credentials and tool settings.
//
// Settings are layered, lowest precedence first:
//
//  1. built-in defaults
//  2. the TOML config file (default ./wrangler.toml)
//  3. environment variables
//  4. command-line flags bound to the viper instance
//
// The file carries the account at the top level, next to whatever else a
// wrangler.toml holds, plus an optional [kvns] table:
//
//	account_id = "0123456789abcdef"
//	api_token  = "..."
//
//	[kvns]
//	concurrency  = 16
//	api_base_url = "https://api.cloudflare.com/client/v4"
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// DefaultPath is the config file read when no --config is given.
const DefaultPath = "wrangler.toml"

// Defaults.
const (
	DefaultBaseURL     = "https://api.cloudflare.com/client/v4"
	DefaultConcurrency = 32
)

// Viper keys.
const (
	KeyAccountID   = "account_id"
	KeyAPIToken    = "api_token"
	KeyBaseURL     = "api_base_url"
	KeyConcurrency = "concurrency"
)

// Config is the immutable per-invocation configuration.
type Config struct {
	AccountID   string
	APIToken    string
	BaseURL     string
	Concurrency int

	// Source is the config file that was read, or "" when none existed.
	Source string
}

type fileConfig struct {
	AccountID string `toml:"account_id"`
	APIToken  string `toml:"api_token"`
	KVNS      struct {
		Concurrency int    `toml:"concurrency"`
		APIBaseURL  string `toml:"api_base_url"`
	} `toml:"kvns"`
}

// Load reads the config file at path and layers environment variables and
// any flags bound to v on top. A missing file is not an error as long as
// the environment supplies the credentials. v may be nil.
func Load(path string, v *viper.Viper) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	if v == nil {
		v = viper.New()
	}

	var fc fileConfig
	source := path
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		source = ""
	}

	v.SetDefault(KeyBaseURL, DefaultBaseURL)
	v.SetDefault(KeyConcurrency, DefaultConcurrency)
	if fc.AccountID != "" {
		v.SetDefault(KeyAccountID, fc.AccountID)
	}
	if fc.APIToken != "" {
		v.SetDefault(KeyAPIToken, fc.APIToken)
	}
	if fc.KVNS.APIBaseURL != "" {
		v.SetDefault(KeyBaseURL, fc.KVNS.APIBaseURL)
	}
	if fc.KVNS.Concurrency != 0 {
		v.SetDefault(KeyConcurrency, fc.KVNS.Concurrency)
	}

	bindings := map[string][]string{
		KeyAccountID:   {"CLOUDFLARE_ACCOUNT_ID", "CF_ACCOUNT_ID"},
		KeyAPIToken:    {"CLOUDFLARE_API_TOKEN", "CF_API_TOKEN"},
		KeyBaseURL:     {"KVNS_API_BASE_URL"},
		KeyConcurrency: {"KVNS_CONCURRENCY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	cfg := &Config{
		AccountID:   v.GetString(KeyAccountID),
		APIToken:    v.GetString(KeyAPIToken),
		BaseURL:     v.GetString(KeyBaseURL),
		Concurrency: v.GetInt(KeyConcurrency),
		Source:      source,
	}

	if err := cfg.Validate(); err != nil {
		if source == "" {
			return nil, fmt.Errorf("invalid configuration (config file %s not found): %w", path, err)
		}
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.AccountID == "" {
		return ErrMissingAccountID
	}
	if c.APIToken == "" {
		return ErrMissingAPIToken
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1 (got %d)", c.Concurrency)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("api_base_url %q is not an absolute URL", c.BaseURL)
	}
	return nil
}
