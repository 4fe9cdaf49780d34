package config

import (
	"time"

	redisclient "github.com/rwalabs/chainsync/internal/infra/redis"
	"github.com/rwalabs/chainsync/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Chain     ChainConfig        `yaml:"chain"`
	Contracts []ContractConfig   `yaml:"contracts"`
	Sync      SyncConfig         `yaml:"sync"`
	Queue     QueueConfig        `yaml:"queue"`
	Redis     redisclient.Config `yaml:"redis"`
	Database  postgres.Config    `yaml:"database"`
	Logging   LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig holds node connection settings.
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"` // HTTP endpoint for range queries
	WSURL  string `yaml:"ws_url"`  // websocket endpoint for subscriptions
	// ConfirmationBlocks is how far the scanner trails the head; events
	// older than this lag are treated as final.
	ConfirmationBlocks uint64 `yaml:"confirmation_blocks"`
}

// ContractConfig maps a tracked contract name to its deployed address.
type ContractConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// SyncConfig holds catch-up scanner settings.
type SyncConfig struct {
	Interval   time.Duration `yaml:"interval"`
	WindowSize uint64        `yaml:"window_size"`
	// Lookback bounds the initial backfill: a fresh cursor starts at
	// head - lookback, not genesis.
	Lookback uint64 `yaml:"lookback"`
}

// QueueConfig holds delivery settings for the durable event queue.
type QueueConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	BaseDelay    time.Duration `yaml:"base_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}
