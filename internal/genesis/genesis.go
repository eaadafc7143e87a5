// Package genesis loads the validator set a node starts consensus with from
// a small JSON document, independent of the mutable runtime Config.
package genesis

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/validator"
)

// ValidatorEntry is one validator's genesis-time identity and stake.
type ValidatorEntry struct {
	PublicKey string `json:"public_key"`
	Stake     uint64 `json:"stake"`
}

// Doc is the on-disk genesis document: the initial validator set and the
// minimum total stake the network requires to be considered live.
type Doc struct {
	MinTotalStake     uint64           `json:"min_total_stake"`
	ConsensusFraction float64          `json:"consensus_fraction"`
	Validators        []ValidatorEntry `json:"validators"`
}

// Load reads and parses a genesis document from path.
func Load(path string) (*Doc, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("genesis: read %s: %w", path, err)
	}
	var doc Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("genesis: parse %s: %w", path, err)
	}
	if doc.ConsensusFraction == 0 {
		doc.ConsensusFraction = validator.DefaultConsensusFraction
	}
	return &doc, nil
}

// ValidatorSet builds a validator.Set from the genesis document, with every
// entry starting out Active.
func (d *Doc) ValidatorSet() (*validator.Set, error) {
	records := make([]*validator.Record, len(d.Validators))
	for i, v := range d.Validators {
		raw, err := hex.DecodeString(v.PublicKey)
		if err != nil || len(raw) != cryptox.PublicKeySize {
			return nil, fmt.Errorf("genesis: validator %d: invalid public key %q", i, v.PublicKey)
		}
		var pub cryptox.PublicKey
		copy(pub[:], raw)
		records[i] = &validator.Record{PublicKey: pub, Stake: v.Stake, Status: validator.Active}
	}
	return validator.NewSet(records, d.MinTotalStake, d.ConsensusFraction), nil
}

// WriteSingleValidator writes a genesis document containing exactly self,
// used to bootstrap a single-node development network.
func WriteSingleValidator(path string, self cryptox.PublicKey, stake uint64) error {
	doc := Doc{
		MinTotalStake:     stake,
		ConsensusFraction: validator.DefaultConsensusFraction,
		Validators: []ValidatorEntry{
			{PublicKey: hex.EncodeToString(self[:]), Stake: stake},
		},
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("genesis: marshal: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("genesis: write %s: %w", path, err)
	}
	return nil
}
