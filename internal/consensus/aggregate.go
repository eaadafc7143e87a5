package consensus

import "github.com/rechain/ccbft/internal/cryptox"

// AggregateSignature collapses the individual vote signatures contributing
// to one (height, view, round, phase, block) quorum into a single bitmap
// over a known validator ordering plus their signatures. Ed25519 has no
// algebraic aggregation, so "aggregate" here means "carried together and
// verified as a set" rather than a single compressed scalar; a true BLS
// scheme would shrink this further but is not among the signing primitives
// this core uses.
type AggregateSignature struct {
	Order      []cryptox.PublicKey // the validator ordering the bitmap indexes into
	Bitmap     []bool
	Signatures []cryptox.Signature
}

// NewAggregateSignature builds an aggregate from a signer->signature map
// and the deterministic validator ordering it should be indexed against.
func NewAggregateSignature(order []cryptox.PublicKey, votes map[cryptox.PublicKey]cryptox.Signature) *AggregateSignature {
	agg := &AggregateSignature{
		Order:  order,
		Bitmap: make([]bool, len(order)),
	}
	for i, pub := range order {
		if sig, ok := votes[pub]; ok {
			agg.Bitmap[i] = true
			agg.Signatures = append(agg.Signatures, sig)
		}
	}
	return agg
}

// Verify checks every bitmap-selected signature against message.
func (a *AggregateSignature) Verify(message []byte) bool {
	sigIdx := 0
	for i, set := range a.Bitmap {
		if !set {
			continue
		}
		if sigIdx >= len(a.Signatures) {
			return false
		}
		if !cryptox.Verify(a.Order[i], message, a.Signatures[sigIdx]) {
			return false
		}
		sigIdx++
	}
	return sigIdx == len(a.Signatures)
}

// ContributingStake sums the stake of bitmap-selected validators, given a
// lookup from public key to stake.
func (a *AggregateSignature) ContributingStake(stakeOf func(cryptox.PublicKey) uint64) uint64 {
	var total uint64
	for i, set := range a.Bitmap {
		if set {
			total += stakeOf(a.Order[i])
		}
	}
	return total
}
