package txpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ccbft/internal/cryptox"
)

func newSignedTx(t *testing.T, amount, fee, nonce uint64, data []byte) *Transaction {
	t.Helper()
	kp, err := cryptox.GenerateKeypair()
	require.NoError(t, err)
	to, err := cryptox.GenerateKeypair()
	require.NoError(t, err)

	tx := &Transaction{To: to.PublicKey(), Amount: amount, Fee: fee, Nonce: nonce, Data: data}
	tx.Sign(kp)
	return tx
}

func TestTransactionRoundTrip(t *testing.T) {
	tx := newSignedTx(t, 100, 10, 0, nil)
	require.NoError(t, tx.Validate())

	h1 := tx.Hash()
	// Re-encoding the same fields deterministically reproduces the hash.
	clone := *tx
	assert.Equal(t, h1, clone.Hash())
}

func TestTransactionValidateEmptyValue(t *testing.T) {
	tx := newSignedTx(t, 0, 10, 0, nil)
	assert.ErrorIs(t, tx.Validate(), ErrEmptyValue)
}

func TestTransactionValidateDataTooLarge(t *testing.T) {
	tx := newSignedTx(t, 0, 10, 0, make([]byte, MaxDataSize+1))
	assert.ErrorIs(t, tx.Validate(), ErrDataTooLarge)
}

func TestTransactionValidateDataExactlyAtLimit(t *testing.T) {
	tx := newSignedTx(t, 0, 10, 0, make([]byte, MaxDataSize))
	assert.NoError(t, tx.Validate())
}

func TestTransactionValidateBadSignature(t *testing.T) {
	tx := newSignedTx(t, 100, 10, 0, nil)
	tx.Amount = 999 // mutate after signing
	assert.ErrorIs(t, tx.Validate(), ErrInvalidSignature)
}

func TestTransactionIsCoinbase(t *testing.T) {
	tx := &Transaction{Amount: 1}
	assert.True(t, tx.IsCoinbase())

	signed := newSignedTx(t, 1, 0, 0, nil)
	assert.False(t, signed.IsCoinbase())
}
