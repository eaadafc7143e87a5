package genesis

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rechain/ccbft/internal/cryptox"
)

func TestWriteAndLoadSingleValidator(t *testing.T) {
	kp, err := cryptox.GenerateKeypair()
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, WriteSingleValidator(path, kp.PublicKey(), 1000))

	doc, err := Load(path)
	require.NoError(t, err)
	require.Len(t, doc.Validators, 1)
	assert.Equal(t, uint64(1000), doc.Validators[0].Stake)

	set, err := doc.ValidatorSet()
	require.NoError(t, err)
	rec, ok := set.Get(kp.PublicKey())
	require.True(t, ok)
	assert.Equal(t, uint64(1000), rec.Stake)
}

func TestValidatorSetRejectsBadPublicKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, writeRaw(path, `{"validators":[{"public_key":"not-hex","stake":1}]}`))

	doc, err := Load(path)
	require.NoError(t, err)
	_, err = doc.ValidatorSet()
	assert.Error(t, err)
}

func writeRaw(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
