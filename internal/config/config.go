// Package config loads the immutable startup snapshot: server address,
// parachain topology and keys, accepted protocol versions, and relay
// tuning. There is no hot reload; the snapshot lives for the process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const EnvPrefix = "XCM_LITE"

type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Parachains ParachainConfig `yaml:"parachains"`
	Relay      RelayConfig     `yaml:"relay"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ParachainConfig struct {
	Count    uint32         `yaml:"count"`
	Versions []uint32       `yaml:"versions"`
	Keys     []KeyEntry     `yaml:"keys"`
	Genesis  []GenesisEntry `yaml:"genesis"`
}

// KeyEntry configures a parachain's signing key. SeedPhrase and SecretKey
// are mutually exclusive; leaving both empty generates a fresh key.
type KeyEntry struct {
	ParaID     uint32 `yaml:"paraId"`
	SeedPhrase string `yaml:"seedPhrase,omitempty"`
	SecretKey  string `yaml:"secretKey,omitempty"`
}

// GenesisEntry seeds an initial account balance on a parachain, typically
// a sender-side reserve account so transfers have funds to debit.
type GenesisEntry struct {
	ParaID  uint32 `yaml:"paraId"`
	Account string `yaml:"account"`
	Amount  uint64 `yaml:"amount"`
}

type RelayConfig struct {
	HopDelay    time.Duration `yaml:"hopDelay"`
	HopTimeout  time.Duration `yaml:"hopTimeout"`
	FailureRate float64       `yaml:"failureRate"`
	MaxInFlight int           `yaml:"maxInFlight"`
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Parachains: ParachainConfig{
			Count:    3,
			Versions: []uint32{3, 4},
		},
		Relay: RelayConfig{
			HopDelay:    50 * time.Millisecond,
			HopTimeout:  2 * time.Second,
			FailureRate: 0,
			MaxInFlight: 128,
		},
	}
}

// Load reads path (optional), applies XCM_LITE_* environment overrides on
// top of defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvPrefix + "_SERVER_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv(EnvPrefix + "_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s_SERVER_PORT: %q", EnvPrefix, v)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvPrefix + "_PARACHAIN_COUNT"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("invalid %s_PARACHAIN_COUNT: %q", EnvPrefix, v)
		}
		c.Parachains.Count = uint32(n)
	}
	if v := os.Getenv(EnvPrefix + "_VERSIONS"); v != "" {
		var versions []uint32
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.ParseUint(strings.TrimSpace(part), 10, 32)
			if err != nil {
				return fmt.Errorf("invalid %s_VERSIONS entry: %q", EnvPrefix, part)
			}
			versions = append(versions, uint32(n))
		}
		c.Parachains.Versions = versions
	}
	if v := os.Getenv(EnvPrefix + "_FAILURE_RATE"); v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s_FAILURE_RATE: %q", EnvPrefix, v)
		}
		c.Relay.FailureRate = rate
	}
	if v := os.Getenv(EnvPrefix + "_MAX_IN_FLIGHT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s_MAX_IN_FLIGHT: %q", EnvPrefix, v)
		}
		c.Relay.MaxInFlight = n
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if len(c.Parachains.Versions) == 0 {
		return fmt.Errorf("at least one accepted version is required")
	}
	seen := make(map[uint32]bool, len(c.Parachains.Keys))
	for _, k := range c.Parachains.Keys {
		if k.SeedPhrase != "" && k.SecretKey != "" {
			return fmt.Errorf("parachain %d configures both seed phrase and secret key", k.ParaID)
		}
		if seen[k.ParaID] {
			return fmt.Errorf("duplicate parachain id %d in key configuration", k.ParaID)
		}
		seen[k.ParaID] = true
	}
	if n := uint32(len(c.Parachains.Keys)); n > c.Parachains.Count {
		c.Parachains.Count = n
	}
	if len(c.ParachainIDs()) < 2 {
		return fmt.Errorf("at least two parachains are required")
	}
	if c.Relay.FailureRate < 0 || c.Relay.FailureRate > 1 {
		return fmt.Errorf("relay failure rate %v out of [0,1]", c.Relay.FailureRate)
	}
	if c.Relay.MaxInFlight <= 0 {
		return fmt.Errorf("relay max in-flight must be positive")
	}
	if c.Relay.HopTimeout <= 0 {
		return fmt.Errorf("relay hop timeout must be positive")
	}
	known := make(map[uint32]bool)
	for _, id := range c.ParachainIDs() {
		known[id] = true
	}
	for _, g := range c.Parachains.Genesis {
		if !known[g.ParaID] {
			return fmt.Errorf("genesis entry references unknown parachain %d", g.ParaID)
		}
		if strings.TrimSpace(g.Account) == "" {
			return fmt.Errorf("genesis entry for parachain %d has empty account", g.ParaID)
		}
	}
	return nil
}

// ParachainIDs returns the ids to initialise: configured key entries, or
// 1000+idx when none are configured.
func (c *Config) ParachainIDs() []uint32 {
	if len(c.Parachains.Keys) > 0 {
		ids := make([]uint32, 0, len(c.Parachains.Keys))
		for _, k := range c.Parachains.Keys {
			ids = append(ids, k.ParaID)
		}
		return ids
	}
	ids := make([]uint32, 0, c.Parachains.Count)
	for i := uint32(0); i < c.Parachains.Count; i++ {
		ids = append(ids, 1000+i)
	}
	return ids
}

// VersionAccepted reports whether v is in the accepted version set.
func (c *Config) VersionAccepted(v uint32) bool {
	for _, accepted := range c.Parachains.Versions {
		if v == accepted {
			return true
		}
	}
	return false
}
