// Package config loads the endpoint's runtime configuration through
// Viper, recognizing every option the external interface names plus
// environment-variable overrides under the RAKNET_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ventosilenzioso/raknet-go/internal/rerr"
)

// Wire-level MTU floor and the default ceiling deployed RakNet peers
// negotiate down from.
const (
	MinMTU     = 400
	DefaultMTU = 1492
)

// Config is every recognized runtime option, defaulted and validated
// before an endpoint is constructed from it.
type Config struct {
	BindAddress         string        `mapstructure:"bind_address"`
	MTU                 int           `mapstructure:"maximum_transfer_unit"`
	MaxConnections      int           `mapstructure:"max_connections"` // -1 = unlimited
	Identifier          string        `mapstructure:"identifier"`
	BroadcastingEnabled bool          `mapstructure:"broadcasting_enabled"`
	Timeout             time.Duration `mapstructure:"timeout"`
	KeepAliveInterval   time.Duration `mapstructure:"keep_alive_interval"`
	MaxPacketsPerSecond int           `mapstructure:"max_packets_per_second"`
	FloodBlockDuration  time.Duration `mapstructure:"flood_block_duration"`
}

// Load reads configuration from the optional file at path (if non-empty),
// environment variables prefixed RAKNET_, and the defaults below.
// Environment variables override the file, and the file overrides the
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("raknet")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("bind_address", "")
	v.SetDefault("maximum_transfer_unit", DefaultMTU)
	v.SetDefault("max_connections", -1)
	v.SetDefault("identifier", "raknet-go server")
	v.SetDefault("broadcasting_enabled", true)
	v.SetDefault("timeout", 10*time.Second)
	v.SetDefault("keep_alive_interval", 2*time.Second)
	v.SetDefault("max_packets_per_second", 0) // 0 = no flood cap
	v.SetDefault("flood_block_duration", 30*time.Second)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("raknet: reading config %s: %w", path, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("raknet: unmarshalling config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects configuration values the core cannot run with.
func (c *Config) Validate() error {
	if c.MTU < MinMTU {
		return fmt.Errorf("%w: mtu %d below floor %d", rerr.ErrMtuExceeded, c.MTU, MinMTU)
	}
	if c.MaxConnections < -1 {
		return fmt.Errorf("raknet: max_connections must be -1 or >= 0, got %d", c.MaxConnections)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("raknet: timeout must be positive, got %v", c.Timeout)
	}
	if c.KeepAliveInterval <= 0 {
		return fmt.Errorf("raknet: keep_alive_interval must be positive, got %v", c.KeepAliveInterval)
	}
	if c.MaxPacketsPerSecond < 0 {
		return fmt.Errorf("raknet: max_packets_per_second must be >= 0, got %d", c.MaxPacketsPerSecond)
	}
	return nil
}
