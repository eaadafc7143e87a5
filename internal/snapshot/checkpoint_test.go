package snapshot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ccbft/internal/chain"
	"github.com/rechain/ccbft/internal/cryptox"
)

// memStore is an in-memory Store used only to exercise Checkpointer without
// a real BadgerDB instance.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore { return &memStore{data: map[string][]byte{}} }

func (m *memStore) Get(_ context.Context, key []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[string(key)], nil
}

func (m *memStore) Set(_ context.Context, key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (m *memStore) Has(_ context.Context, key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

func (m *memStore) Iterate(_ context.Context, prefix []byte, fn func(key, value []byte) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == string(prefix) {
			if err := fn([]byte(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *memStore) Close() error { return nil }

func TestCheckpointerSaveAndLoadChain(t *testing.T) {
	ctx := context.Background()
	cp := NewCheckpointer(newMemStore())

	genesis := chain.NewGenesis(cryptox.ZeroHash, time.Now().UnixMilli(), nil)
	require.NoError(t, cp.SaveBlock(ctx, genesis))

	c, err := chain.New(genesis)
	require.NoError(t, err)

	block1 := &chain.Block{Header: chain.Header{
		PrevHash:    genesis.Hash(),
		TxRoot:      chain.ComputeTxRoot(nil),
		Height:      1,
		TimestampMs: time.Now().UnixMilli(),
		GasLimit:    10_000,
	}}
	require.NoError(t, c.AddBlock(block1, time.Now()))
	require.NoError(t, cp.SaveBlock(ctx, block1))

	latest, ok, err := cp.LatestHeight(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), latest)

	restored, ok, err := cp.LoadChain(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(1), restored.HeadHeight())
	assert.Equal(t, block1.Hash(), restored.Head().Hash())
}

func TestCheckpointerLoadChainEmpty(t *testing.T) {
	cp := NewCheckpointer(newMemStore())
	_, ok, err := cp.LoadChain(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}
