// Package config handles planner configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration
type Config struct {
	// Paths
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// Server
	Server ServerConfig `json:"server" yaml:"server"`

	// Calendar providers
	Google  ProviderConfig `json:"google" yaml:"google"`
	Outlook ProviderConfig `json:"outlook" yaml:"outlook"`

	// Sync
	Sync SyncConfig `json:"sync" yaml:"sync"`
	Feed FeedConfig `json:"feed" yaml:"feed"`

	// Token vault
	Vault VaultConfig `json:"vault" yaml:"vault"`

	Timezone string `json:"timezone" yaml:"timezone"`
	LogLevel string `json:"log_level" yaml:"log_level"`
}

// ServerConfig for HTTP server
type ServerConfig struct {
	Port int    `json:"port" yaml:"port"`
	Host string `json:"host" yaml:"host"`

	// PublicURL is the origin the browser sees; OAuth redirects come back here.
	PublicURL string `json:"public_url" yaml:"public_url"`
}

// ProviderConfig describes one OAuth calendar provider. Empty endpoint
// fields fall back to the provider's production endpoints.
type ProviderConfig struct {
	ClientID   string   `json:"client_id" yaml:"client_id"`
	AuthURL    string   `json:"auth_url,omitempty" yaml:"auth_url,omitempty"`
	TokenURL   string   `json:"token_url,omitempty" yaml:"token_url,omitempty"`
	APIBaseURL string   `json:"api_base_url,omitempty" yaml:"api_base_url,omitempty"`
	Tenant     string   `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	Scopes     []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Configured reports whether a client id is set.
func (p ProviderConfig) Configured() bool {
	return strings.TrimSpace(p.ClientID) != ""
}

// SyncConfig for the periodic sync
type SyncConfig struct {
	Interval      Duration `json:"interval" yaml:"interval"`
	Cron          string   `json:"cron,omitempty" yaml:"cron,omitempty"` // overrides Interval when set
	BufferMinutes int      `json:"buffer_minutes" yaml:"buffer_minutes"`
	PastDays      int      `json:"past_days" yaml:"past_days"`
	FutureDays    int      `json:"future_days" yaml:"future_days"`
	MaxPages      int      `json:"max_pages" yaml:"max_pages"`
}

// FeedConfig for the static .ics feed
type FeedConfig struct {
	URL string `json:"url" yaml:"url"`
}

// VaultConfig for token encryption at rest
type VaultConfig struct {
	Passphrase string `json:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// Duration is a time.Duration that reads and writes as "15m" in config files.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int64
		if nerr := json.Unmarshal(data, &n); nerr != nil {
			return fmt.Errorf("duration must be a string like \"15m\": %w", err)
		}
		*d = Duration(time.Duration(n))
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns default configuration
func Default() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		DataDir: filepath.Join(home, ".planner"),
		Server: ServerConfig{
			Port:      8080,
			Host:      "localhost",
			PublicURL: "http://localhost:8080",
		},
		Google: ProviderConfig{
			ClientID: os.Getenv("PLANNER_GOOGLE_CLIENT_ID"),
		},
		Outlook: ProviderConfig{
			ClientID: os.Getenv("PLANNER_OUTLOOK_CLIENT_ID"),
			Tenant:   "common",
		},
		Sync: SyncConfig{
			Interval:      Duration(15 * time.Minute),
			BufferMinutes: 10,
			PastDays:      30,
			FutureDays:    180,
			MaxPages:      8,
		},
		Vault: VaultConfig{
			Passphrase: os.Getenv("PLANNER_VAULT_PASSPHRASE"),
		},
		Timezone: "Local",
		LogLevel: "info",
	}
}

// Load loads config from file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = filepath.Join(cfg.DataDir, "config.json")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnv()
			return cfg, nil // Use defaults
		}
		return nil, err
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets the environment override secrets and deployment specifics
func (c *Config) applyEnv() {
	if v := os.Getenv("PLANNER_GOOGLE_CLIENT_ID"); v != "" {
		c.Google.ClientID = v
	}
	if v := os.Getenv("PLANNER_OUTLOOK_CLIENT_ID"); v != "" {
		c.Outlook.ClientID = v
	}
	if v := os.Getenv("PLANNER_VAULT_PASSPHRASE"); v != "" {
		c.Vault.Passphrase = v
	}
	if v := os.Getenv("PLANNER_PUBLIC_URL"); v != "" {
		c.Server.PublicURL = strings.TrimRight(v, "/")
	}
}

// Save saves config to file
func (c *Config) Save(path string) error {
	if path == "" {
		path = filepath.Join(c.DataDir, "config.json")
	}

	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	// Don't save the vault passphrase to file
	safeCfg := *c
	safeCfg.Vault.Passphrase = ""

	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(safeCfg)
	} else {
		data, err = json.MarshalIndent(safeCfg, "", "  ")
	}
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Location resolves the configured timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// DatabasePath is where the planner keeps its records.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "planner.db")
}

// RedirectURI is the OAuth callback registered with both providers.
func (c *Config) RedirectURI() string {
	return strings.TrimRight(c.Server.PublicURL, "/") + "/api/v1/oauth/callback"
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
