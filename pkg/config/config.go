// Package config loads the YAML configuration of an SDO server node.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/samsamfire/gocanopen-sdo/pkg/sdo"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultInterface       = "virtual"
	DefaultChannel         = "vcan0"
	DefaultNodeId          = 0x10
	DefaultLogLevel        = "info"
	DefaultMaxSegments     = sdo.BlockMaxSize
	DefaultLockTimeoutMs   = int(sdo.DefaultLockTimeout / time.Millisecond)
	DefaultServerTimeoutMs = int(sdo.DefaultServerTimeout / time.Millisecond)
	DefaultSendAttempts    = 3
	DefaultSendDelayMs     = 1
)

// SDOConfig holds the settings shared by every SDO server of the node
type SDOConfig struct {
	Segmented       *bool `yaml:"segmented,omitempty"`
	Block           *bool `yaml:"block,omitempty"`
	MaxSegments     int   `yaml:"max_segments,omitempty"`
	LockTimeoutMs   int   `yaml:"lock_timeout_ms,omitempty"`
	ServerTimeoutMs int   `yaml:"server_timeout_ms,omitempty"`
}

// BusConfig holds the transmit retry policy
type BusConfig struct {
	SendAttempts int `yaml:"send_attempts,omitempty"`
	SendDelayMs  int `yaml:"send_delay_ms,omitempty"`
}

type Config struct {
	NodeId    int       `yaml:"node_id"`
	Interface string    `yaml:"interface,omitempty"`
	Channel   string    `yaml:"channel,omitempty"`
	EDS       string    `yaml:"eds,omitempty"` // Empty for the embedded dictionary
	LogLevel  string    `yaml:"log_level,omitempty"`
	SDO       SDOConfig `yaml:"sdo,omitempty"`
	Bus       BusConfig `yaml:"bus,omitempty"`
}

func boolPtrDefault(value *bool, def bool) *bool {
	if value != nil {
		return value
	}
	return &def
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{NodeId: DefaultNodeId}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Interface == "" {
		cfg.Interface = DefaultInterface
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}
	cfg.SDO.Segmented = boolPtrDefault(cfg.SDO.Segmented, true)
	cfg.SDO.Block = boolPtrDefault(cfg.SDO.Block, true)
	if cfg.SDO.MaxSegments == 0 {
		cfg.SDO.MaxSegments = DefaultMaxSegments
	}
	if cfg.SDO.LockTimeoutMs == 0 {
		cfg.SDO.LockTimeoutMs = DefaultLockTimeoutMs
	}
	if cfg.SDO.ServerTimeoutMs == 0 {
		cfg.SDO.ServerTimeoutMs = DefaultServerTimeoutMs
	}
	if cfg.Bus.SendAttempts == 0 {
		cfg.Bus.SendAttempts = DefaultSendAttempts
	}
	if cfg.Bus.SendDelayMs == 0 {
		cfg.Bus.SendDelayMs = DefaultSendDelayMs
	}
}

// Load reads the configuration file at path and applies defaults
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges
func (cfg *Config) Validate() error {
	if cfg.NodeId < 1 || cfg.NodeId > 127 {
		return fmt.Errorf("node_id must be between 1 and 127, got %d", cfg.NodeId)
	}
	if cfg.Interface == "" {
		return fmt.Errorf("interface is required")
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if cfg.SDO.MaxSegments < 1 || cfg.SDO.MaxSegments > 127 {
		return fmt.Errorf("sdo.max_segments must be between 1 and 127, got %d", cfg.SDO.MaxSegments)
	}
	if cfg.SDO.LockTimeoutMs < 0 {
		return fmt.Errorf("sdo.lock_timeout_ms must not be negative")
	}
	if cfg.SDO.ServerTimeoutMs < 0 {
		return fmt.Errorf("sdo.server_timeout_ms must not be negative")
	}
	if cfg.Bus.SendAttempts < 1 {
		return fmt.Errorf("bus.send_attempts must be at least 1")
	}
	if cfg.Bus.SendDelayMs < 0 {
		return fmt.Errorf("bus.send_delay_ms must not be negative")
	}
	return nil
}

func (cfg *Config) LockTimeout() time.Duration {
	return time.Duration(cfg.SDO.LockTimeoutMs) * time.Millisecond
}

func (cfg *Config) ServerTimeout() time.Duration {
	return time.Duration(cfg.SDO.ServerTimeoutMs) * time.Millisecond
}

func (cfg *Config) SendDelay() time.Duration {
	return time.Duration(cfg.Bus.SendDelayMs) * time.Millisecond
}

// ServerConfig returns the SDO server defaults overridden by the
// configured values
func (cfg *Config) ServerConfig() sdo.ServerConfig {
	config := sdo.DefaultServerConfig()
	if cfg.SDO.Segmented != nil {
		config.Segmented = *cfg.SDO.Segmented
	}
	if cfg.SDO.Block != nil {
		config.Block = *cfg.SDO.Block
	}
	if cfg.SDO.MaxSegments > 0 {
		config.MaxSegments = uint8(cfg.SDO.MaxSegments)
	}
	if cfg.SDO.LockTimeoutMs > 0 {
		config.LockTimeout = cfg.LockTimeout()
	}
	if cfg.SDO.ServerTimeoutMs > 0 {
		config.Timeout = cfg.ServerTimeout()
	}
	return config
}

// Marshal returns the YAML representation of the configuration
func (cfg *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}
