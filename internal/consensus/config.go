package consensus

import "time"

// Config enumerates every tunable the engine's phase and pipeline behaviour
// depends on.
type Config struct {
	ProposalTimeout    time.Duration
	PreVoteTimeout     time.Duration
	PreCommitTimeout   time.Duration
	ViewChangeTimeout  time.Duration
	MaxParallelBlocks  int
	FastPathEnabled    bool
	FastPathThreshold  float64 // fraction of total active stake, default 5/6
	AdaptiveTimeouts   bool
	PipeliningEnabled  bool
	AggregateSignatures bool
	// MaxViewChangesBeforeEscalation is K: a height not committed after
	// this many view changes escalates to the safety monitor.
	MaxViewChangesBeforeEscalation int
	MaxTxsPerBlock                 int
	MaxBlockBytes                  int
	GasLimitPerBlock               uint64
	TickInterval                   time.Duration
}

// DefaultConfig returns the sensible defaults spec.md §4.5 and §9 suggest.
func DefaultConfig() Config {
	return Config{
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
	}
}
