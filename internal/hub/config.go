package hub

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// AuthMode selects whether the listener accepts the dev-mode header bypass.
type AuthMode string

const (
	AuthModeProd AuthMode = "prod"
	AuthModeDev  AuthMode = "dev"
)

// ListenerConfig holds every operator-tunable setting for the hub's HTTP
// front door, layered flags -> env -> defaults via viper, adapted from the
// teacher's internal/gateway/config.go.
type ListenerConfig struct {
	BindAddr string `mapstructure:"bind_addr"`

	GatewayTokenSalt    string `mapstructure:"gateway_token_salt"`
	SessionCookieSecret string `mapstructure:"session_cookie_secret"`
	HostTokenKEK        string `mapstructure:"host_token_kek"`
	AuthMode            AuthMode `mapstructure:"auth_mode"`

	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	IdleSweep       time.Duration `mapstructure:"idle_sweep"`
	Grace           time.Duration `mapstructure:"grace"`
	MaxTextBytes    int           `mapstructure:"max_text_bytes"`
	MaxBinaryBytes  int           `mapstructure:"max_binary_bytes"`

	DatabaseDSN string `mapstructure:"database_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`
}

// DefaultListenerConfig returns the documented defaults for every optional
// key; required keys (salts/secrets/DSN) are left empty so LoadConfig can
// detect a missing value.
func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		BindAddr:       ":8443",
		AuthMode:       AuthModeProd,
		CommandTimeout: 10 * time.Second,
		IdleTimeout:    600 * time.Second,
		IdleSweep:      60 * time.Second,
		Grace:          30 * time.Second,
		MaxTextBytes:   256 * 1024,
		MaxBinaryBytes: 64 * 1024,
	}
}

// LoadConfig builds a ListenerConfig from defaults, a config file (if
// configPath is non-empty), and GATEWAYHUB_-prefixed environment variables,
// in that layering order.
func LoadConfig(configPath string) (ListenerConfig, error) {
	cfg := DefaultListenerConfig()

	v := viper.New()
	v.SetEnvPrefix("GATEWAYHUB")
	v.AutomaticEnv()
	for key, val := range map[string]interface{}{
		"bind_addr":        cfg.BindAddr,
		"auth_mode":        string(cfg.AuthMode),
		"command_timeout":  cfg.CommandTimeout,
		"idle_timeout":     cfg.IdleTimeout,
		"idle_sweep":       cfg.IdleSweep,
		"grace":            cfg.Grace,
		"max_text_bytes":   cfg.MaxTextBytes,
		"max_binary_bytes": cfg.MaxBinaryBytes,
	} {
		v.SetDefault(key, val)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("hub: read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("hub: unmarshal config: %w", err)
	}

	if cfg.GatewayTokenSalt == "" {
		return cfg, fmt.Errorf("hub: gateway_token_salt is required")
	}
	if cfg.SessionCookieSecret == "" {
		return cfg, fmt.Errorf("hub: session_cookie_secret is required")
	}
	if cfg.HostTokenKEK == "" {
		return cfg, fmt.Errorf("hub: host_token_kek is required")
	}
	if cfg.AuthMode != AuthModeProd && cfg.AuthMode != AuthModeDev {
		return cfg, fmt.Errorf("hub: auth_mode must be %q or %q, got %q", AuthModeProd, AuthModeDev, cfg.AuthMode)
	}

	return cfg, nil
}

// HubConfig narrows ListenerConfig down to the timing fields a Hub cares
// about.
func (c ListenerConfig) HubConfig() Config {
	return Config{
		CommandTimeout:    c.CommandTimeout,
		IdleSweepInterval: c.IdleSweep,
		IdleThreshold:     c.IdleTimeout,
		DisconnectGrace:   c.Grace,
	}
}
