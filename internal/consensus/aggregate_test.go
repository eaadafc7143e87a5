package consensus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ccbft/internal/cryptox"
)

func TestAggregateSignatureVerifiesContributingSet(t *testing.T) {
	keys := []*cryptox.Keypair{mustKeypair(t), mustKeypair(t), mustKeypair(t)}
	order := []cryptox.PublicKey{keys[0].PublicKey(), keys[1].PublicKey(), keys[2].PublicKey()}
	message := []byte("precommit height=1 view=0")

	votes := map[cryptox.PublicKey]cryptox.Signature{
		keys[0].PublicKey(): keys[0].Sign(message),
		keys[2].PublicKey(): keys[2].Sign(message),
	}

	agg := NewAggregateSignature(order, votes)
	require.Equal(t, []bool{true, false, true}, agg.Bitmap)
	assert.True(t, agg.Verify(message))

	stakeOf := map[cryptox.PublicKey]uint64{
		order[0]: 1000, order[1]: 1000, order[2]: 1000,
	}
	assert.Equal(t, uint64(2000), agg.ContributingStake(func(p cryptox.PublicKey) uint64 { return stakeOf[p] }))
}

func TestAggregateSignatureRejectsWrongMessage(t *testing.T) {
	keys := []*cryptox.Keypair{mustKeypair(t), mustKeypair(t)}
	order := []cryptox.PublicKey{keys[0].PublicKey(), keys[1].PublicKey()}
	votes := map[cryptox.PublicKey]cryptox.Signature{keys[0].PublicKey(): keys[0].Sign([]byte("real message"))}

	agg := NewAggregateSignature(order, votes)
	assert.False(t, agg.Verify([]byte("tampered message")))
}
