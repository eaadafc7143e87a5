// Package safety implements the monitor that watches validator behaviour
// and network quality, maintaining reputation, a global health score, and a
// bounded log of faults and alerts that the consensus engine consults.
package safety

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/validator"
)

var log = logrus.WithFields(logrus.Fields{"process": "safety"})

// ActionKind distinguishes the kinds of validator behaviour the monitor
// observes.
type ActionKind int

const (
	ProposalMade ActionKind = iota
	VoteCast
	ViewChangeSent
	NoResponse
)

// Action describes one observed validator behaviour at a given
// (height, view, round).
type Action struct {
	Kind       ActionKind
	Height     uint64
	View       uint64
	Round      uint64
	BlockHash  cryptox.Hash
	Valid      bool          // ProposalMade
	Consistent bool          // VoteCast
	Duration   time.Duration // NoResponse
}

// FaultKind categorises a recorded fault.
type FaultKind int

const (
	Equivocation FaultKind = iota
	InvalidProposal
	Silence
	NetworkDegradation
	InvalidSignature
)

func (k FaultKind) String() string {
	switch k {
	case Equivocation:
		return "equivocation"
	case InvalidProposal:
		return "invalid_proposal"
	case Silence:
		return "silence"
	case NetworkDegradation:
		return "network_degradation"
	case InvalidSignature:
		return "invalid_signature"
	default:
		return "unknown"
	}
}

// Severity ranks a fault or alert.
type Severity int

const (
	Info Severity = iota
	Warning
	Critical
)

// Fault is one recorded safety violation.
type Fault struct {
	Seq       uint64
	ID        uuid.UUID
	Validator cryptox.PublicKey
	Kind      FaultKind
	Severity  Severity
	Height    uint64
	View      uint64
	Round     uint64
	RecordedAt time.Time
}

// Alert is a monitor-raised notice not tied to a single validator, such as
// a stalled height.
type Alert struct {
	ID         uuid.UUID
	Severity   Severity
	Message    string
	RecordedAt time.Time
}

// Config bounds the monitor's detection thresholds.
type Config struct {
	SilenceThreshold             time.Duration
	InvalidProposalJailThreshold int
	PacketLossThreshold          float64
	RTTThreshold                 time.Duration
	HealthDecayRate              float64
	MaxFaults                    int
	MaxAlerts                    int
	NetworkWindow                int
}

// DefaultConfig returns reasonable monitor thresholds.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold:             3 * time.Second,
		InvalidProposalJailThreshold: 3,
		PacketLossThreshold:          0.2,
		RTTThreshold:                 500 * time.Millisecond,
		HealthDecayRate:              0.1,
		MaxFaults:                    1024,
		MaxAlerts:                    256,
		NetworkWindow:                128,
	}
}

type roundKey struct {
	height, view, round uint64
}

type validatorState struct {
	proposals            map[roundKey]cryptox.Hash
	votes                map[roundKey]cryptox.Hash
	invalidProposalCount int
}

// Monitor observes validator actions and network samples on behalf of the
// consensus engine.
type Monitor struct {
	cfg        Config
	validators *validator.Set

	mu            sync.Mutex
	states        map[cryptox.PublicKey]*validatorState
	faults        []Fault
	alerts        []Alert
	nextSeq       uint64
	health        float64
	lastTick      time.Time
	networkRTT    []time.Duration
	networkLoss   []bool
	paused        bool
}

// New creates a monitor bound to the given validator set, through which it
// applies reputation updates and jailing decisions.
func New(cfg Config, validators *validator.Set) *Monitor {
	return &Monitor{
		cfg:        cfg,
		validators: validators,
		states:     make(map[cryptox.PublicKey]*validatorState),
		health:     1.0,
	}
}

func (m *Monitor) stateFor(pub cryptox.PublicKey) *validatorState {
	st, ok := m.states[pub]
	if !ok {
		st = &validatorState{
			proposals: make(map[roundKey]cryptox.Hash),
			votes:     make(map[roundKey]cryptox.Hash),
		}
		m.states[pub] = st
	}
	return st
}

func (m *Monitor) appendFault(f Fault) {
	m.nextSeq++
	f.Seq = m.nextSeq
	f.ID = uuid.New()
	m.faults = append(m.faults, f)
	for len(m.faults) > m.cfg.MaxFaults {
		evicted := false
		for i, existing := range m.faults {
			if existing.Severity != Critical {
				m.faults = append(m.faults[:i], m.faults[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			m.faults = m.faults[1:]
		}
	}
	log.WithFields(logrus.Fields{
		"validator": f.Validator.String(),
		"kind":      f.Kind.String(),
		"severity":  f.Severity,
		"height":    f.Height,
		"view":      f.View,
		"round":     f.Round,
	}).Warn("safety fault recorded")
}

func (m *Monitor) appendAlert(a Alert) {
	a.ID = uuid.New()
	a.RecordedAt = time.Now()
	m.alerts = append(m.alerts, a)
	for len(m.alerts) > m.cfg.MaxAlerts {
		evicted := false
		for i, existing := range m.alerts {
			if existing.Severity != Critical {
				m.alerts = append(m.alerts[:i], m.alerts[i+1:]...)
				evicted = true
				break
			}
		}
		if !evicted {
			m.alerts = m.alerts[1:]
		}
	}
	log.WithFields(logrus.Fields{"severity": a.Severity, "message": a.Message}).Warn("safety alert raised")
}

// ObserveAction records one validator behaviour, running equivocation and
// invalid-proposal detection and updating reputation.
func (m *Monitor) ObserveAction(pub cryptox.PublicKey, action Action, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.stateFor(pub)
	key := roundKey{action.Height, action.View, action.Round}

	switch action.Kind {
	case ProposalMade:
		if prev, ok := st.proposals[key]; ok && prev != action.BlockHash {
			m.recordEquivocation(pub, action.Height, action.View, action.Round, now)
			return
		}
		st.proposals[key] = action.BlockHash
		if action.Valid {
			m.validators.RecordSuccess(pub, now)
		} else {
			m.validators.RecordFailure(pub, now)
			st.invalidProposalCount++
			severity := Warning
			if st.invalidProposalCount >= m.cfg.InvalidProposalJailThreshold {
				severity = Critical
				m.validators.SetStatus(pub, validator.Jailed)
			}
			m.appendFault(Fault{
				Validator: pub, Kind: InvalidProposal, Severity: severity,
				Height: action.Height, View: action.View, Round: action.Round,
				RecordedAt: now,
			})
		}

	case VoteCast:
		if prev, ok := st.votes[key]; ok && prev != action.BlockHash {
			m.recordEquivocation(pub, action.Height, action.View, action.Round, now)
			return
		}
		st.votes[key] = action.BlockHash
		if action.Consistent {
			m.validators.RecordSuccess(pub, now)
		} else {
			m.validators.RecordFailure(pub, now)
		}

	case ViewChangeSent:
		// Bookkeeping only; view changes alone are not faulty.

	case NoResponse:
		if action.Duration >= m.cfg.SilenceThreshold {
			m.validators.SetStatus(pub, validator.Inactive)
			m.appendFault(Fault{
				Validator: pub, Kind: Silence, Severity: Warning,
				Height: action.Height, View: action.View, Round: action.Round,
				RecordedAt: now,
			})
		}
	}
}

// ObserveInvalidSignature records a message whose signature failed to
// verify against its claimed signer, penalising that signer's reputation.
// The claimed signer may not be one at all — a forged message can name any
// public key — so this only ever touches validators already in the set.
func (m *Monitor) ObserveInvalidSignature(pub cryptox.PublicKey, height, view, round uint64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.validators.Get(pub); ok {
		m.validators.RecordFailure(pub, now)
	}
	m.appendFault(Fault{
		Validator: pub, Kind: InvalidSignature, Severity: Warning,
		Height: height, View: view, Round: round, RecordedAt: now,
	})
}

func (m *Monitor) recordEquivocation(pub cryptox.PublicKey, height, view, round uint64, now time.Time) {
	m.validators.SetStatus(pub, validator.Jailed)
	m.appendFault(Fault{
		Validator: pub, Kind: Equivocation, Severity: Critical,
		Height: height, View: view, Round: round, RecordedAt: now,
	})
}

// ObserveNetwork feeds one round-trip-time / delivery sample into the
// rolling health window.
func (m *Monitor) ObserveNetwork(rtt time.Duration, delivered bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.networkRTT = append(m.networkRTT, rtt)
	m.networkLoss = append(m.networkLoss, !delivered)
	if len(m.networkRTT) > m.cfg.NetworkWindow {
		m.networkRTT = m.networkRTT[len(m.networkRTT)-m.cfg.NetworkWindow:]
		m.networkLoss = m.networkLoss[len(m.networkLoss)-m.cfg.NetworkWindow:]
	}

	lossFraction := 0.0
	if len(m.networkLoss) > 0 {
		lost := 0
		for _, l := range m.networkLoss {
			if l {
				lost++
			}
		}
		lossFraction = float64(lost) / float64(len(m.networkLoss))
	}

	var avgRTT time.Duration
	if len(m.networkRTT) > 0 {
		var sum time.Duration
		for _, r := range m.networkRTT {
			sum += r
		}
		avgRTT = sum / time.Duration(len(m.networkRTT))
	}

	if lossFraction > m.cfg.PacketLossThreshold || avgRTT > m.cfg.RTTThreshold {
		m.health *= 0.9
		if m.health < 0 {
			m.health = 0
		}
		m.appendFault(Fault{Kind: NetworkDegradation, Severity: Warning, RecordedAt: time.Now()})
	}
}

// Tick ages the health score toward 1.0. It should be called periodically
// by the consensus engine's event loop. A call whose now does not advance
// past the previous tick is a no-op, so a replayed or out-of-order tick
// cannot double-decay the score.
func (m *Monitor) Tick(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !now.After(m.lastTick) {
		return
	}
	m.lastTick = now
	m.health += (1.0 - m.health) * m.cfg.HealthDecayRate
	if m.health > 1.0 {
		m.health = 1.0
	}
}

// IsSuspect reports whether a validator should be skipped as a would-be
// leader.
func (m *Monitor) IsSuspect(pub cryptox.PublicKey) bool {
	rec, ok := m.validators.Get(pub)
	if !ok {
		return true
	}
	return rec.Status != validator.Active
}

// Health returns the current network-quality multiplier in [0,1].
func (m *Monitor) Health() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// FaultsSince returns every fault recorded after cursor, and the new
// cursor to pass on the next call.
func (m *Monitor) FaultsSince(cursor uint64) ([]Fault, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Fault
	for _, f := range m.faults {
		if f.Seq > cursor {
			out = append(out, f)
		}
	}
	return out, m.nextSeq
}

// EscalateStalledHeight is called by the consensus engine when a height has
// exceeded its configured view-change bound without committing. It records
// a consensus-pause request (reported by Paused) and raises a Critical
// alert so no silent deadlock occurs; the monitor keeps observing.
func (m *Monitor) EscalateStalledHeight(height uint64, viewChanges int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = true
	m.appendAlert(Alert{
		Severity: Critical,
		Message:  "height stalled after repeated view changes",
	})
	log.WithFields(logrus.Fields{"height": height, "view_changes": viewChanges}).Error("height escalated to safety monitor")
}

// Paused reports whether the monitor has requested consensus pause.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

// Resume clears a prior pause request.
func (m *Monitor) Resume() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = false
}

// Alerts returns a copy of the current alert queue.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
