// Package config loads an ironchaind node's configuration from a YAML file
// plus environment overrides, per SPEC_FULL.md §3. It mirrors the teacher's
// pkg/config loader: a single mapstructure-tagged Config, a package-level
// AppConfig, and Load/LoadFromEnv entry points.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the unified configuration for an ironchaind node.
type Config struct {
	Network struct {
		ChainID        string   `mapstructure:"chain_id" json:"chain_id"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
	} `mapstructure:"network" json:"network"`

	Consensus struct {
		Engine             string `mapstructure:"engine" json:"engine"` // "tendermint", "poa", "solo"
		BlockTimeMS        int    `mapstructure:"block_time_ms" json:"block_time_ms"`
		ValidatorsRequired int    `mapstructure:"validators_required" json:"validators_required"`
	} `mapstructure:"consensus" json:"consensus"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
		Prune  bool   `mapstructure:"prune" json:"prune"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`

	Metrics struct {
		ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
	} `mapstructure:"metrics" json:"metrics"`

	// Features holds the boolean flags gated behind environment variables
	// at process start, per spec.md §6. Its absence implies the stricter
	// default for every flag.
	Features struct {
		OrderTransfer bool `mapstructure:"order_transfer" json:"order_transfer"`
	} `mapstructure:"features" json:"features"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads a YAML config file (named by env, or "default" if env is
// empty) from ./config or ./cmd/config, merges an IRONCHAIN_ env-var
// overlay, and unmarshals the result into AppConfig.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigType("yaml")
	viper.AddConfigPath("config")
	viper.AddConfigPath("cmd/config")

	name := env
	if name == "" {
		name = "default"
	}
	viper.SetConfigName(name)
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("config: read %s: %w", name, err)
		}
	}

	viper.SetEnvPrefix("ironchain")
	viper.AutomaticEnv()
	if err := viper.BindEnv("features.order_transfer", "IRONCHAIN_ORDER_TRANSFER"); err != nil {
		return nil, fmt.Errorf("config: bind order transfer flag: %w", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// viper's default decode hooks do not weakly-type an env string into a
	// bool, so the single flag named directly by spec.md §6 is read once
	// more, explicitly, rather than trusted to Unmarshal.
	AppConfig.Features.OrderTransfer = boolFromEnv("IRONCHAIN_ORDER_TRANSFER")
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the IRONCHAIN_ENV environment
// variable to select which overlay file (if any) to merge in.
func LoadFromEnv() (*Config, error) {
	return Load(envOrDefault("IRONCHAIN_ENV", ""))
}

// envOrDefault returns the value of the environment variable key, or
// fallback if it is unset or empty. Kept local rather than split into a
// separate utils package since config is its only caller.
func envOrDefault(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// boolFromEnv parses an environment variable as a boolean, defaulting to
// false for any unset, empty, or unparseable value — the stricter default
// required by spec.md §6 for every optional transaction feature flag.
func boolFromEnv(key string) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}
