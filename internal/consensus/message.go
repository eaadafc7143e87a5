// Package consensus implements the ccBFT state machine: height/view/round
// progression through Prepare, PreVote, PreCommit, and Commit, driven by
// stake-weighted vote counting and leader rotation.
package consensus

import (
	"github.com/rechain/ccbft/internal/chain"
	"github.com/rechain/ccbft/internal/cryptox"
)

// Kind identifies a consensus wire message's role.
type Kind int

const (
	KindProposal Kind = iota
	KindPreVote
	KindPreCommit
	KindViewChange
	KindNewView
)

func (k Kind) String() string {
	switch k {
	case KindProposal:
		return "proposal"
	case KindPreVote:
		return "prevote"
	case KindPreCommit:
		return "precommit"
	case KindViewChange:
		return "view_change"
	case KindNewView:
		return "new_view"
	default:
		return "unknown"
	}
}

// Message is the wire shape for every consensus protocol message. Not
// every field is meaningful for every Kind; see the comments below.
type Message struct {
	Kind      Kind
	Height    uint64
	View      uint64
	Round     uint64
	BlockHash cryptox.Hash  // PreVote/PreCommit target; zero means a nil vote
	Nil       bool          // explicit nil-vote marker, since BlockHash alone is ambiguous with a real zero hash
	Block     *chain.Block  // Proposal, NewView
	Signer    cryptox.PublicKey
	Signature cryptox.Signature
}

// signingPayload returns the bytes a Message's Signature is computed over.
// The signature field itself is excluded, matching the transaction wire
// convention.
func (m *Message) signingPayload() []byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, byte(m.Kind))
	buf = appendUint64(buf, m.Height)
	buf = appendUint64(buf, m.View)
	buf = appendUint64(buf, m.Round)
	buf = append(buf, m.BlockHash[:]...)
	if m.Nil {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, m.Signer[:]...)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 7; i >= 0; i-- {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// Sign signs the message's payload with kp and stamps the signer field.
func (m *Message) Sign(kp *cryptox.Keypair) {
	m.Signer = kp.PublicKey()
	m.Signature = kp.Sign(m.signingPayload())
}

// VerifySignature checks the message's signature against its claimed
// signer.
func (m *Message) VerifySignature() bool {
	return cryptox.Verify(m.Signer, m.signingPayload(), m.Signature)
}
