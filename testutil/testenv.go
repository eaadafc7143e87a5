// Package testutil provides fixtures shared across package test suites: a
// genesis chain, a validator set with known keypairs, a mempool, and the
// node configuration defaults they were built from.
package testutil

import (
	"testing"
	"time"

	"github.com/rechain/ccbft/internal/chain"
	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/safety"
	"github.com/rechain/ccbft/internal/txpool"
	"github.com/rechain/ccbft/internal/validator"
	"github.com/rechain/ccbft/pkg/config"
)

// TestEnvironment bundles the fixtures most package tests need: a genesis
// chain, a validator set, a mempool, a safety monitor, and the keypairs
// backing the validator set.
type TestEnvironment struct {
	T          *testing.T
	Config     *config.Config
	Chain      *chain.Chain
	Mempool    *txpool.Mempool
	Validators *validator.Set
	Safety     *safety.Monitor
	Keys       []*cryptox.Keypair
}

// NewTestEnvironment builds a TestEnvironment with n validators of equal
// stake, a fresh genesis chain, and an empty mempool.
func NewTestEnvironment(t *testing.T, n int) *TestEnvironment {
	t.Helper()

	cfg := config.DefaultConfig()

	keys := make([]*cryptox.Keypair, n)
	records := make([]*validator.Record, n)
	for i := range keys {
		kp, err := cryptox.GenerateKeypair()
		if err != nil {
			t.Fatalf("failed to generate validator keypair: %v", err)
		}
		keys[i] = kp
		records[i] = &validator.Record{
			PublicKey: kp.PublicKey(),
			Stake:     cfg.Validator.Stake,
			Status:    validator.Active,
		}
	}
	validators := validator.NewSet(records, 0, validator.DefaultConsensusFraction)

	genesis := chain.NewGenesis(cryptox.ZeroHash, time.Now().UnixMilli(), nil)
	c, err := chain.New(genesis)
	if err != nil {
		t.Fatalf("failed to build genesis chain: %v", err)
	}

	mempool := txpool.New(cfg.Mempool.MaxCount, cfg.Mempool.MaxBytes)

	monitor := safety.New(safety.DefaultConfig(), validators)

	return &TestEnvironment{
		T:          t,
		Config:     cfg,
		Chain:      c,
		Mempool:    mempool,
		Validators: validators,
		Safety:     monitor,
		Keys:       keys,
	}
}

// MustAdmitPayment signs and admits a payment transaction from signer,
// failing the test on error.
func (env *TestEnvironment) MustAdmitPayment(signer *cryptox.Keypair, to cryptox.PublicKey, amount, nonce uint64) *txpool.Transaction {
	env.T.Helper()

	tx := &txpool.Transaction{To: to, Amount: amount, Nonce: nonce}
	tx.Sign(signer)

	if _, err := env.Mempool.Admit(tx); err != nil {
		env.T.Fatalf("failed to admit transaction: %v", err)
	}
	return tx
}

// MustAddBlock validates and appends b to the chain at the given wall-clock
// time, failing the test on error.
func (env *TestEnvironment) MustAddBlock(b *chain.Block, now time.Time) {
	env.T.Helper()

	if err := env.Chain.AddBlock(b, now); err != nil {
		env.T.Fatalf("failed to add block at height %d: %v", b.Header.Height, err)
	}
}
