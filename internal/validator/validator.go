// Package validator models the staked validator set that ccBFT's consensus
// engine and safety monitor consult for weights, thresholds, and rotation
// order.
package validator

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rechain/ccbft/internal/cryptox"
)

// Status is a validator's membership state.
type Status int

const (
	Active Status = iota
	Inactive
	Jailed
	Slashed
	Unbonding
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case Inactive:
		return "inactive"
	case Jailed:
		return "jailed"
	case Slashed:
		return "slashed"
	case Unbonding:
		return "unbonding"
	default:
		return "unknown"
	}
}

// Record is one validator's stake and standing.
type Record struct {
	PublicKey      cryptox.PublicKey
	Stake          uint64
	Successes      uint64
	Failures       uint64
	LastActiveTime time.Time
	Status         Status
}

// Reputation is successes / (successes+failures), defaulting to 1.0 with no
// observations.
func (r *Record) Reputation() float64 {
	total := r.Successes + r.Failures
	if total == 0 {
		return 1.0
	}
	return float64(r.Successes) / float64(total)
}

// Reliable reports whether the validator is Active with reputation > 0.9.
func (r *Record) Reliable() bool {
	return r.Status == Active && r.Reputation() > 0.9
}

func (r *Record) clone() *Record {
	c := *r
	return &c
}

// Set is the collection of validator records for one epoch.
type Set struct {
	mu                sync.RWMutex
	epoch             uint64
	minTotalStake     uint64
	consensusFraction float64 // default 2/3
	byKey             map[cryptox.PublicKey]*Record
}

// DefaultConsensusFraction is the fractional stake required to reach
// consensus absent explicit configuration.
const DefaultConsensusFraction = 2.0 / 3.0

// NewSet creates a validator set from the given records.
func NewSet(records []*Record, minTotalStake uint64, consensusFraction float64) *Set {
	if consensusFraction <= 0 {
		consensusFraction = DefaultConsensusFraction
	}
	s := &Set{
		minTotalStake:     minTotalStake,
		consensusFraction: consensusFraction,
		byKey:             make(map[cryptox.PublicKey]*Record),
	}
	for _, r := range records {
		s.byKey[r.PublicKey] = r.clone()
	}
	return s
}

// Epoch returns the set's current epoch counter.
func (s *Set) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// AdvanceEpoch increments the epoch counter and returns the new value. It
// does not change the set's membership; single-validator status changes go
// through SetStatus.
func (s *Set) AdvanceEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	return s.epoch
}

// Get returns a copy of the record for pub, if present.
func (s *Set) Get(pub cryptox.PublicKey) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byKey[pub]
	if !ok {
		return nil, false
	}
	return r.clone(), true
}

// TotalActiveStake sums the stake of every Active validator.
func (s *Set) TotalActiveStake() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total uint64
	for _, r := range s.byKey {
		if r.Status == Active {
			total += r.Stake
		}
	}
	return total
}

// RequiredStakeForConsensus returns ceil(total_active_stake * fraction).
func (s *Set) RequiredStakeForConsensus() uint64 {
	total := s.TotalActiveStake()
	return uint64(math.Ceil(float64(total) * s.consensusFraction))
}

// MeetsThreshold reports whether stake clears the consensus threshold.
func (s *Set) MeetsThreshold(stake uint64) bool {
	return stake >= s.RequiredStakeForConsensus()
}

// Operable reports whether total active stake clears the configured
// minimum for the chain to make progress at all.
func (s *Set) Operable() bool {
	return s.TotalActiveStake() >= s.minTotalStake
}

// ActiveOrdered returns Active validators in stake-descending order, ties
// broken by ascending public-key byte order, for deterministic leader
// rotation.
func (s *Set) ActiveOrdered() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.byKey {
		if r.Status == Active {
			out = append(out, r.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Stake != out[j].Stake {
			return out[i].Stake > out[j].Stake
		}
		return out[i].PublicKey.Less(out[j].PublicKey)
	})
	return out
}

// SetStatus transitions a validator's status.
func (s *Set) SetStatus(pub cryptox.PublicKey, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byKey[pub]; ok {
		r.Status = status
	}
}

// RecordSuccess increments a validator's success counter and marks it
// recently active.
func (s *Set) RecordSuccess(pub cryptox.PublicKey, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byKey[pub]; ok {
		r.Successes++
		r.LastActiveTime = at
	}
}

// RecordFailure increments a validator's failure counter.
func (s *Set) RecordFailure(pub cryptox.PublicKey, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.byKey[pub]; ok {
		r.Failures++
		r.LastActiveTime = at
	}
}
