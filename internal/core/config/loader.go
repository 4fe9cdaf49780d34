package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/rwalabs/chainsync/internal/core/domain"
)

// Load reads configuration from a YAML file, expanding ${VAR} references from
// the environment before parsing.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg AppConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Chain.ConfirmationBlocks == 0 {
		cfg.Chain.ConfirmationBlocks = 3
	}
	if cfg.Sync.Interval == 0 {
		cfg.Sync.Interval = 15 * time.Second
	}
	if cfg.Sync.WindowSize == 0 {
		cfg.Sync.WindowSize = 100
	}
	if cfg.Sync.Lookback == 0 {
		cfg.Sync.Lookback = 1000
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 4
	}
	if cfg.Queue.PollInterval == 0 {
		cfg.Queue.PollInterval = time.Second
	}
	if cfg.Queue.MaxAttempts == 0 {
		cfg.Queue.MaxAttempts = 5
	}
	if cfg.Queue.BaseDelay == 0 {
		cfg.Queue.BaseDelay = 2 * time.Second
	}
	if cfg.Queue.MaxDelay == 0 {
		cfg.Queue.MaxDelay = time.Minute
	}
}

// Validate checks that everything the core needs before starting is present.
func (cfg *AppConfig) Validate() error {
	if cfg.Chain.RPCURL == "" {
		return fmt.Errorf("chain.rpc_url is required")
	}
	if cfg.Chain.WSURL == "" {
		return fmt.Errorf("chain.ws_url is required")
	}
	// database.url may be empty: the app then runs on in-memory storage,
	// which is good enough for local runs against a dev chain.
	if len(cfg.Contracts) == 0 {
		return fmt.Errorf("at least one contract is required")
	}

	known := make(map[string]bool, len(domain.TrackedContracts))
	for _, name := range domain.TrackedContracts {
		known[name] = true
	}
	for _, c := range cfg.Contracts {
		if c.Address == "" {
			return fmt.Errorf("contract %q has no address", c.Name)
		}
		if !known[c.Name] {
			return fmt.Errorf("unknown contract %q (no event schemas registered)", c.Name)
		}
	}
	return nil
}

// TrackedContracts returns the configured contracts as domain values.
func (cfg *AppConfig) TrackedContracts() []domain.Contract {
	out := make([]domain.Contract, 0, len(cfg.Contracts))
	for _, c := range cfg.Contracts {
		out = append(out, domain.Contract{Name: c.Name, Address: c.Address})
	}
	return out
}
