package validator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/rechain/ccbft/internal/cryptox"
)

func mustKey(t *testing.T) cryptox.PublicKey {
	t.Helper()
	kp, err := cryptox.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	return kp.PublicKey()
}

func TestReputationDefaultsToOne(t *testing.T) {
	r := &Record{PublicKey: mustKey(t), Stake: 100, Status: Active}
	assert.Equal(t, 1.0, r.Reputation())
	assert.True(t, r.Reliable())
}

func TestReputationRatio(t *testing.T) {
	r := &Record{Successes: 9, Failures: 1, Status: Active}
	assert.InDelta(t, 0.9, r.Reputation(), 1e-9)
	assert.False(t, r.Reliable()) // not strictly > 0.9
}

func TestRequiredStakeForConsensus(t *testing.T) {
	records := []*Record{
		{PublicKey: mustKey(t), Stake: 1000, Status: Active},
		{PublicKey: mustKey(t), Stake: 1000, Status: Active},
		{PublicKey: mustKey(t), Stake: 1000, Status: Active},
		{PublicKey: mustKey(t), Stake: 1000, Status: Active},
	}
	set := NewSet(records, 0, 0)
	assert.Equal(t, uint64(4000), set.TotalActiveStake())
	// ceil(4000 * 2/3) = 2667
	assert.Equal(t, uint64(2667), set.RequiredStakeForConsensus())
	assert.True(t, set.MeetsThreshold(2667))
	assert.False(t, set.MeetsThreshold(2666))
}

func TestActiveOrderedExcludesNonActive(t *testing.T) {
	k1, k2, k3 := mustKey(t), mustKey(t), mustKey(t)
	set := NewSet([]*Record{
		{PublicKey: k1, Stake: 500, Status: Active},
		{PublicKey: k2, Stake: 1000, Status: Jailed},
		{PublicKey: k3, Stake: 700, Status: Active},
	}, 0, 0)

	ordered := set.ActiveOrdered()
	if assertLen(t, ordered, 2) {
		assert.Equal(t, k3, ordered[0].PublicKey)
		assert.Equal(t, k1, ordered[1].PublicKey)
	}
}

func assertLen(t *testing.T, s []*Record, n int) bool {
	t.Helper()
	return assert.Len(t, s, n)
}

func TestActiveOrderedTieBreakByPublicKey(t *testing.T) {
	k1, k2 := mustKey(t), mustKey(t)
	set := NewSet([]*Record{
		{PublicKey: k1, Stake: 500, Status: Active},
		{PublicKey: k2, Stake: 500, Status: Active},
	}, 0, 0)

	ordered := set.ActiveOrdered()
	assert.Len(t, ordered, 2)
	if k1.Less(k2) {
		assert.Equal(t, k1, ordered[0].PublicKey)
	} else {
		assert.Equal(t, k2, ordered[0].PublicKey)
	}
}

func TestSetStatusAndOperable(t *testing.T) {
	k1 := mustKey(t)
	set := NewSet([]*Record{{PublicKey: k1, Stake: 100, Status: Active}}, 50, 0)
	assert.True(t, set.Operable())

	set.SetStatus(k1, Jailed)
	assert.False(t, set.Operable())

	rec, ok := set.Get(k1)
	assert.True(t, ok)
	assert.Equal(t, Jailed, rec.Status)
}

func TestRecordSuccessFailure(t *testing.T) {
	k1 := mustKey(t)
	set := NewSet([]*Record{{PublicKey: k1, Status: Active}}, 0, 0)

	now := time.Now()
	set.RecordSuccess(k1, now)
	set.RecordFailure(k1, now)

	rec, _ := set.Get(k1)
	assert.Equal(t, uint64(1), rec.Successes)
	assert.Equal(t, uint64(1), rec.Failures)
	assert.Equal(t, 0.5, rec.Reputation())
}

func TestAdvanceEpoch(t *testing.T) {
	set := NewSet(nil, 0, 0)
	assert.Equal(t, uint64(0), set.Epoch())
	assert.Equal(t, uint64(1), set.AdvanceEpoch())
}
