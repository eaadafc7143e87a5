package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/validator"
)

func mustKey(t *testing.T) cryptox.PublicKey {
	t.Helper()
	kp, err := cryptox.GenerateKeypair()
	require.NoError(t, err)
	return kp.PublicKey()
}

func newMonitor(t *testing.T, keys ...cryptox.PublicKey) (*Monitor, *validator.Set) {
	t.Helper()
	var records []*validator.Record
	for _, k := range keys {
		records = append(records, &validator.Record{PublicKey: k, Stake: 1000, Status: validator.Active})
	}
	set := validator.NewSet(records, 0, 0)
	return New(DefaultConfig(), set), set
}

func TestEquivocationDetectedAndJailed(t *testing.T) {
	x := mustKey(t)
	m, set := newMonitor(t, x)

	now := time.Now()
	blockA := cryptox.HashBytes([]byte("a"))
	blockB := cryptox.HashBytes([]byte("b"))

	m.ObserveAction(x, Action{Kind: ProposalMade, Height: 1, View: 0, BlockHash: blockA, Valid: true}, now)
	m.ObserveAction(x, Action{Kind: ProposalMade, Height: 1, View: 0, BlockHash: blockB, Valid: true}, now)

	faults, _ := m.FaultsSince(0)
	require.Len(t, faults, 1)
	assert.Equal(t, Equivocation, faults[0].Kind)
	assert.Equal(t, Critical, faults[0].Severity)

	rec, ok := set.Get(x)
	require.True(t, ok)
	assert.Equal(t, validator.Jailed, rec.Status)
	assert.True(t, m.IsSuspect(x))
}

func TestInvalidProposalEscalatesToJail(t *testing.T) {
	x := mustKey(t)
	m, set := newMonitor(t, x)
	now := time.Now()

	for i := uint64(0); i < 3; i++ {
		m.ObserveAction(x, Action{Kind: ProposalMade, Height: i, View: 0, BlockHash: cryptox.HashBytes([]byte{byte(i)}), Valid: false}, now)
	}

	rec, _ := set.Get(x)
	assert.Equal(t, validator.Jailed, rec.Status)
}

func TestSilenceMarksInactiveNotJailed(t *testing.T) {
	x := mustKey(t)
	m, set := newMonitor(t, x)

	m.ObserveAction(x, Action{Kind: NoResponse, Height: 1, Duration: 10 * time.Second}, time.Now())

	rec, _ := set.Get(x)
	assert.Equal(t, validator.Inactive, rec.Status)
}

func TestIsSuspectUnknownValidator(t *testing.T) {
	m, _ := newMonitor(t)
	assert.True(t, m.IsSuspect(mustKey(t)))
}

func TestFaultsSinceCursorDrains(t *testing.T) {
	x := mustKey(t)
	m, _ := newMonitor(t, x)
	now := time.Now()

	m.ObserveAction(x, Action{Kind: ProposalMade, Height: 1, BlockHash: cryptox.HashBytes([]byte("a")), Valid: false}, now)
	first, cursor := m.FaultsSince(0)
	require.Len(t, first, 1)

	m.ObserveAction(x, Action{Kind: ProposalMade, Height: 2, BlockHash: cryptox.HashBytes([]byte("b")), Valid: false}, now)
	second, _ := m.FaultsSince(cursor)
	require.Len(t, second, 1)
}

func TestHealthDecaysTowardOne(t *testing.T) {
	m, _ := newMonitor(t)
	for i := 0; i < 200; i++ {
		m.ObserveNetwork(time.Second, false)
	}
	assert.Less(t, m.Health(), 1.0)

	for i := 0; i < 50; i++ {
		m.Tick(time.Now())
	}
	assert.Greater(t, m.Health(), 0.9)
}

func TestEscalateStalledHeightPauses(t *testing.T) {
	m, _ := newMonitor(t)
	assert.False(t, m.Paused())
	m.EscalateStalledHeight(5, 8)
	assert.True(t, m.Paused())

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, Critical, alerts[0].Severity)

	m.Resume()
	assert.False(t, m.Paused())
}
