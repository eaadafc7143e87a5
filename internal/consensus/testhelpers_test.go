package consensus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rechain/ccbft/internal/chain"
	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/safety"
	"github.com/rechain/ccbft/internal/txpool"
	"github.com/rechain/ccbft/internal/validator"
)

// fakeTransport is a minimal in-process Transport for tests: Broadcast fans
// a message out to every other registered peer's inbox.
type fakeTransport struct {
	id    int
	peers []*fakeTransport
	inbox chan InboundMessage
}

func newFakeNetwork(n int) []*fakeTransport {
	links := make([]*fakeTransport, n)
	for i := range links {
		links[i] = &fakeTransport{id: i, inbox: make(chan InboundMessage, 256)}
	}
	for i := range links {
		for j := range links {
			if i != j {
				links[i].peers = append(links[i].peers, links[j])
			}
		}
	}
	return links
}

func (f *fakeTransport) Broadcast(_ context.Context, msg Message) error {
	for _, peer := range f.peers {
		select {
		case peer.inbox <- InboundMessage{PeerID: string(rune('a' + f.id)), Message: msg}:
		default:
		}
	}
	return nil
}

func (f *fakeTransport) Inbound() <-chan InboundMessage { return f.inbox }

func mustKeypair(t *testing.T) *cryptox.Keypair {
	t.Helper()
	kp, err := cryptox.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

func newTestValidatorSet(t *testing.T, stake uint64, keys ...*cryptox.Keypair) *validator.Set {
	t.Helper()
	records := make([]*validator.Record, len(keys))
	for i, kp := range keys {
		records[i] = &validator.Record{PublicKey: kp.PublicKey(), Stake: stake, Status: validator.Active}
	}
	return validator.NewSet(records, 0, validator.DefaultConsensusFraction)
}

func newTestChain(t *testing.T) *chain.Chain {
	t.Helper()
	genesis := chain.NewGenesis(cryptox.ZeroHash, time.Now().UnixMilli(), nil)
	c, err := chain.New(genesis)
	require.NoError(t, err)
	return c
}

func newTestEngine(t *testing.T, cfg Config, keys []*cryptox.Keypair, self *cryptox.Keypair, link Transport) (*Engine, *chain.Chain, *txpool.Mempool, *validator.Set) {
	t.Helper()
	c := newTestChain(t)
	mempool := txpool.New(10_000, 1<<20)
	validators := newTestValidatorSet(t, 1000, keys...)
	monitor := safety.New(safety.DefaultConfig(), validators)
	return New(cfg, c, mempool, validators, monitor, link, self), c, mempool, validators
}

func signedPayment(t *testing.T, from *cryptox.Keypair, nonce uint64) *txpool.Transaction {
	t.Helper()
	tx := &txpool.Transaction{To: cryptox.PublicKey{0xAB}, Amount: 10, Fee: 5, Nonce: nonce}
	tx.Sign(from)
	return tx
}
