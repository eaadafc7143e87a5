package txpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ccbft/internal/cryptox"
)

func TestMempoolAdmitAndStats(t *testing.T) {
	pool := New(10, 1_000_000)
	tx := newSignedTx(t, 100, 10, 0, nil)

	hash, err := pool.Admit(tx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), hash)

	stats := pool.Stats()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, tx.Size(), stats.CurrentBytes)
}

func TestMempoolRejectsDuplicate(t *testing.T) {
	pool := New(10, 1_000_000)
	tx := newSignedTx(t, 100, 10, 0, nil)

	_, err := pool.Admit(tx)
	require.NoError(t, err)

	_, err = pool.Admit(tx)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestMempoolPoolFull(t *testing.T) {
	pool := New(1, 1_000_000)
	_, err := pool.Admit(newSignedTx(t, 1, 1, 0, nil))
	require.NoError(t, err)

	_, err = pool.Admit(newSignedTx(t, 1, 1, 0, nil))
	assert.ErrorIs(t, err, ErrPoolFull)
}

func TestMempoolByteLimit(t *testing.T) {
	tx := newSignedTx(t, 1, 1, 0, nil)
	pool := New(10, tx.Size()-1)

	_, err := pool.Admit(tx)
	assert.ErrorIs(t, err, ErrByteLimit)
}

func TestMempoolRemove(t *testing.T) {
	pool := New(10, 1_000_000)
	tx := newSignedTx(t, 1, 1, 0, nil)
	hash, err := pool.Admit(tx)
	require.NoError(t, err)

	removed, err := pool.Remove(hash)
	require.NoError(t, err)
	assert.Equal(t, tx, removed)

	assert.Equal(t, 0, pool.Stats().Count)
	_, err = pool.Remove(hash)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMempoolSelectForBlockFeePriority(t *testing.T) {
	pool := New(10, 1_000_000)

	tx1 := newSignedTx(t, 1, 10, 0, nil)
	tx2 := newSignedTx(t, 1, 100, 0, nil)
	tx3 := newSignedTx(t, 1, 50, 0, nil)

	// Make all three the same size so fee ordering equals fee-rate ordering.
	maxSize := tx1.Size()
	if tx2.Size() > maxSize {
		maxSize = tx2.Size()
	}
	if tx3.Size() > maxSize {
		maxSize = tx3.Size()
	}
	pad := func(tx *Transaction) {
		for tx.Size() < maxSize {
			tx.Data = append(tx.Data, 0)
		}
	}
	pad(tx1)
	pad(tx2)
	pad(tx3)

	for _, tx := range []*Transaction{tx1, tx2, tx3} {
		_, err := pool.Admit(tx)
		require.NoError(t, err)
	}

	selected := pool.SelectForBlock(10, 1_000_000)
	require.Len(t, selected, 3)
	assert.Equal(t, tx2.Hash(), selected[0].Hash())
	assert.Equal(t, tx3.Hash(), selected[1].Hash())
	assert.Equal(t, tx1.Hash(), selected[2].Hash())
}

func TestMempoolSelectForBlockRespectsCaps(t *testing.T) {
	pool := New(10, 1_000_000)
	var last *Transaction
	for i := 0; i < 5; i++ {
		tx := newSignedTx(t, 1, uint64(i), 0, nil)
		_, err := pool.Admit(tx)
		require.NoError(t, err)
		last = tx
	}

	selected := pool.SelectForBlock(2, 1_000_000)
	assert.Len(t, selected, 2)

	selected = pool.SelectForBlock(10, last.Size())
	for _, tx := range selected {
		assert.LessOrEqual(t, tx.Size(), last.Size())
	}
}

func TestMempoolEmptySelectForBlock(t *testing.T) {
	pool := New(10, 1_000_000)
	selected := pool.SelectForBlock(10, 1_000_000)
	assert.Empty(t, selected)
}

func TestMempoolDoubleSpendBothAdmittedOneEvictsOther(t *testing.T) {
	pool := New(10, 1_000_000)
	kp, err := cryptox.GenerateKeypair()
	require.NoError(t, err)
	recipientB, _ := cryptox.GenerateKeypair()
	recipientC, _ := cryptox.GenerateKeypair()

	txToB := &Transaction{To: recipientB.PublicKey(), Amount: 1, Fee: 10, Nonce: 0}
	txToB.Sign(kp)
	txToC := &Transaction{To: recipientC.PublicKey(), Amount: 1, Fee: 20, Nonce: 0}
	txToC.Sign(kp)

	hashB, err := pool.Admit(txToB)
	require.NoError(t, err)
	hashC, err := pool.Admit(txToC)
	require.NoError(t, err)
	assert.NotEqual(t, hashB, hashC)
	assert.Equal(t, 2, pool.Stats().Count)

	removed := pool.EvictCommitted(hashC)
	require.Len(t, removed, 2)

	assert.Equal(t, 0, pool.Stats().Count)
	_, ok := pool.GetTransaction(hashB)
	assert.False(t, ok)
	_, ok = pool.GetTransaction(hashC)
	assert.False(t, ok)
}

func TestMempoolGetTransaction(t *testing.T) {
	pool := New(10, 1_000_000)
	tx := newSignedTx(t, 1, 1, 0, nil)
	hash, err := pool.Admit(tx)
	require.NoError(t, err)

	got, ok := pool.GetTransaction(hash)
	require.True(t, ok)
	assert.Equal(t, tx, got)

	_, ok = pool.GetTransaction(cryptox.Hash{})
	assert.False(t, ok)
}
