// Package config loads this node's configuration via viper, following the
// teacher's nested-struct-plus-DefaultConfig-plus-SetDefault pattern.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for a ccBFT node.
type Config struct {
	Node      NodeConfig      `mapstructure:"node"`
	Validator ValidatorConfig `mapstructure:"validator"`
	Consensus ConsensusConfig `mapstructure:"consensus"`
	Safety    SafetyConfig    `mapstructure:"safety"`
	Mempool   MempoolConfig   `mapstructure:"mempool"`
	API       APIConfig       `mapstructure:"api"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// NodeConfig holds node identity configuration.
type NodeConfig struct {
	ID       string `mapstructure:"id"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`
}

// ValidatorConfig points at this node's signing key and declared stake.
type ValidatorConfig struct {
	KeyPath string `mapstructure:"key_path"`
	Stake   uint64 `mapstructure:"stake"`
}

// ConsensusConfig mirrors consensus.Config's tunables for file/env loading.
type ConsensusConfig struct {
	ProposalTimeout                time.Duration `mapstructure:"proposal_timeout"`
	PreVoteTimeout                 time.Duration `mapstructure:"prevote_timeout"`
	PreCommitTimeout               time.Duration `mapstructure:"precommit_timeout"`
	ViewChangeTimeout              time.Duration `mapstructure:"view_change_timeout"`
	MaxParallelBlocks              int           `mapstructure:"max_parallel_blocks"`
	FastPathEnabled                bool          `mapstructure:"fast_path_enabled"`
	FastPathThreshold              float64       `mapstructure:"fast_path_threshold"`
	AdaptiveTimeouts               bool          `mapstructure:"adaptive_timeouts"`
	PipeliningEnabled              bool          `mapstructure:"pipelining_enabled"`
	AggregateSignatures            bool          `mapstructure:"aggregate_signatures"`
	MaxViewChangesBeforeEscalation int           `mapstructure:"max_view_changes_before_escalation"`
	MaxTxsPerBlock                 int           `mapstructure:"max_txs_per_block"`
	MaxBlockBytes                  int           `mapstructure:"max_block_bytes"`
	GasLimitPerBlock                uint64       `mapstructure:"gas_limit_per_block"`
	TickInterval                   time.Duration `mapstructure:"tick_interval"`
}

// SafetyConfig mirrors safety.Config's tunables for file/env loading.
type SafetyConfig struct {
	SilenceThreshold             time.Duration `mapstructure:"silence_threshold"`
	InvalidProposalJailThreshold int           `mapstructure:"invalid_proposal_jail_threshold"`
	PacketLossThreshold          float64       `mapstructure:"packet_loss_threshold"`
	RTTThreshold                 time.Duration `mapstructure:"rtt_threshold"`
	HealthDecayRate              float64       `mapstructure:"health_decay_rate"`
	MaxFaults                    int           `mapstructure:"max_faults"`
	MaxAlerts                    int           `mapstructure:"max_alerts"`
	NetworkWindow                int           `mapstructure:"network_window"`
}

// MempoolConfig bounds this node's pending-transaction pool.
type MempoolConfig struct {
	MaxCount int `mapstructure:"max_count"`
	MaxBytes int `mapstructure:"max_bytes"`
}

// APIConfig holds REST façade configuration.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// StorageConfig optionally points at a snapshot checkpoint store.
type StorageConfig struct {
	SnapshotEnabled bool   `mapstructure:"snapshot_enabled"`
	SnapshotPath    string `mapstructure:"snapshot_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir:  "./data",
			LogLevel: "info",
		},
		Validator: ValidatorConfig{
			KeyPath: "./data/validator.key",
			Stake:   1000,
		},
		Consensus: ConsensusConfig{
			ProposalTimeout:                2 * time.Second,
			PreVoteTimeout:                 2 * time.Second,
			PreCommitTimeout:               2 * time.Second,
			ViewChangeTimeout:              4 * time.Second,
			MaxParallelBlocks:              1,
			FastPathEnabled:                false,
			FastPathThreshold:              5.0 / 6.0,
			AdaptiveTimeouts:               false,
			PipeliningEnabled:              false,
			AggregateSignatures:            false,
			MaxViewChangesBeforeEscalation: 8,
			MaxTxsPerBlock:                 1000,
			MaxBlockBytes:                  1 << 20,
			GasLimitPerBlock:               1_000_000,
			TickInterval:                   50 * time.Millisecond,
		},
		Safety: SafetyConfig{
			SilenceThreshold:             3 * time.Second,
			InvalidProposalJailThreshold: 3,
			PacketLossThreshold:          0.2,
			RTTThreshold:                 500 * time.Millisecond,
			HealthDecayRate:              0.1,
			MaxFaults:                    1024,
			MaxAlerts:                    256,
			NetworkWindow:                128,
		},
		Mempool: MempoolConfig{
			MaxCount: 50_000,
			MaxBytes: 64 << 20,
		},
		API: APIConfig{
			Enabled: true,
			Address: "0.0.0.0:8545",
		},
		Storage: StorageConfig{
			SnapshotEnabled: false,
			SnapshotPath:    "./data/snapshot",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadConfig loads configuration from file and environment variables,
// falling back to DefaultConfig for anything unset.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()

	v.SetDefault("node.data_dir", cfg.Node.DataDir)
	v.SetDefault("node.log_level", cfg.Node.LogLevel)
	v.SetDefault("validator.key_path", cfg.Validator.KeyPath)
	v.SetDefault("validator.stake", cfg.Validator.Stake)
	v.SetDefault("consensus.proposal_timeout", cfg.Consensus.ProposalTimeout)
	v.SetDefault("consensus.prevote_timeout", cfg.Consensus.PreVoteTimeout)
	v.SetDefault("consensus.precommit_timeout", cfg.Consensus.PreCommitTimeout)
	v.SetDefault("consensus.view_change_timeout", cfg.Consensus.ViewChangeTimeout)
	v.SetDefault("consensus.max_parallel_blocks", cfg.Consensus.MaxParallelBlocks)
	v.SetDefault("consensus.fast_path_enabled", cfg.Consensus.FastPathEnabled)
	v.SetDefault("consensus.fast_path_threshold", cfg.Consensus.FastPathThreshold)
	v.SetDefault("consensus.adaptive_timeouts", cfg.Consensus.AdaptiveTimeouts)
	v.SetDefault("consensus.pipelining_enabled", cfg.Consensus.PipeliningEnabled)
	v.SetDefault("consensus.aggregate_signatures", cfg.Consensus.AggregateSignatures)
	v.SetDefault("consensus.max_view_changes_before_escalation", cfg.Consensus.MaxViewChangesBeforeEscalation)
	v.SetDefault("consensus.max_txs_per_block", cfg.Consensus.MaxTxsPerBlock)
	v.SetDefault("consensus.max_block_bytes", cfg.Consensus.MaxBlockBytes)
	v.SetDefault("consensus.gas_limit_per_block", cfg.Consensus.GasLimitPerBlock)
	v.SetDefault("consensus.tick_interval", cfg.Consensus.TickInterval)
	v.SetDefault("safety.silence_threshold", cfg.Safety.SilenceThreshold)
	v.SetDefault("safety.invalid_proposal_jail_threshold", cfg.Safety.InvalidProposalJailThreshold)
	v.SetDefault("safety.packet_loss_threshold", cfg.Safety.PacketLossThreshold)
	v.SetDefault("safety.rtt_threshold", cfg.Safety.RTTThreshold)
	v.SetDefault("safety.health_decay_rate", cfg.Safety.HealthDecayRate)
	v.SetDefault("safety.max_faults", cfg.Safety.MaxFaults)
	v.SetDefault("safety.max_alerts", cfg.Safety.MaxAlerts)
	v.SetDefault("safety.network_window", cfg.Safety.NetworkWindow)
	v.SetDefault("mempool.max_count", cfg.Mempool.MaxCount)
	v.SetDefault("mempool.max_bytes", cfg.Mempool.MaxBytes)
	v.SetDefault("api.enabled", cfg.API.Enabled)
	v.SetDefault("api.address", cfg.API.Address)
	v.SetDefault("storage.snapshot_enabled", cfg.Storage.SnapshotEnabled)
	v.SetDefault("storage.snapshot_path", cfg.Storage.SnapshotPath)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)

	v.SetEnvPrefix("CCBFT")
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return cfg, nil
}
