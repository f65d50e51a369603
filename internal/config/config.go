// Package config loads and validates the process-wide configuration. All
// settings come from the environment (prefix DS_), loaded once at startup.
package config

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/spf13/viper"
)

// guidPattern validates GUID-shaped identifiers like CLIENT_ID/TENANT_ID.
var guidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Config is the validated process configuration.
type Config struct {
	// Bearer is the opaque credential supplied to the provider gateway.
	// The core never refreshes it; when it goes bad the gate closes and an
	// operator must bootstrap again with a fresh one.
	Bearer   string
	ClientID string
	TenantID string

	// StoreDSN is the SQLite path or file: URI for the state store.
	StoreDSN string

	// SharedSecretFloor is the minimum length of generated subscription
	// secrets. Never below 32.
	SharedSecretFloor int

	// DeltaEnabled is the initial state of the credential gate.
	DeltaEnabled bool

	// NotifyURL is the absolute URL the provider POSTs notifications to.
	// It must route to this process's /notify endpoint.
	NotifyURL string

	ListenAddr   string
	GraphBaseURL string // empty means the production endpoint
	QueueSize    int
	Workers      int
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DS")
	v.AutomaticEnv()

	v.SetDefault("STORE_DSN", "driveshadow.db")
	v.SetDefault("SHARED_SECRET_FLOOR", 32)
	v.SetDefault("DELTA_ENABLED", false)
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("QUEUE_SIZE", 256)
	v.SetDefault("WORKERS", 2)

	cfg := &Config{
		Bearer:            v.GetString("BEARER"),
		ClientID:          v.GetString("CLIENT_ID"),
		TenantID:          v.GetString("TENANT_ID"),
		StoreDSN:          v.GetString("STORE_DSN"),
		SharedSecretFloor: v.GetInt("SHARED_SECRET_FLOOR"),
		DeltaEnabled:      v.GetBool("DELTA_ENABLED"),
		NotifyURL:         v.GetString("NOTIFY_URL"),
		ListenAddr:        v.GetString("LISTEN_ADDR"),
		GraphBaseURL:      v.GetString("GRAPH_BASE_URL"),
		QueueSize:         v.GetInt("QUEUE_SIZE"),
		Workers:           v.GetInt("WORKERS"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.Bearer == "" {
		return fmt.Errorf("DS_BEARER is required")
	}
	if c.ClientID != "" && !guidPattern.MatchString(c.ClientID) {
		return fmt.Errorf("DS_CLIENT_ID %q is not GUID-shaped", c.ClientID)
	}
	if c.TenantID != "" && !guidPattern.MatchString(c.TenantID) {
		return fmt.Errorf("DS_TENANT_ID %q is not GUID-shaped", c.TenantID)
	}
	if c.StoreDSN == "" {
		return fmt.Errorf("DS_STORE_DSN is required")
	}
	if c.SharedSecretFloor < 32 {
		return fmt.Errorf("DS_SHARED_SECRET_FLOOR must be >= 32, got %d", c.SharedSecretFloor)
	}
	if c.NotifyURL == "" {
		return fmt.Errorf("DS_NOTIFY_URL is required")
	}
	u, err := url.Parse(c.NotifyURL)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("DS_NOTIFY_URL %q is not an absolute URL", c.NotifyURL)
	}
	return nil
}
