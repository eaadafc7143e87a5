// Package chain holds the append-only, hash- and height-indexed store of
// finalised blocks.
package chain

import (
	"bytes"
	"encoding/binary"

	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/txpool"
	"github.com/rechain/ccbft/pkg/merkle"
)

// GasPerTransaction is the flat gas cost this core charges every
// transaction; real metering belongs to the VM and is out of scope here.
const GasPerTransaction = 1000

// Header is a block's fixed-size envelope.
type Header struct {
	PrevHash    cryptox.Hash
	TxRoot      cryptox.Hash
	StateRoot   cryptox.Hash
	Height      uint64
	TimestampMs int64
	Proposer    cryptox.PublicKey
	GasLimit    uint64
	GasUsed     uint64
	ExtraData   []byte
}

func (h *Header) encode() []byte {
	buf := new(bytes.Buffer)
	buf.Write(h.PrevHash[:])
	buf.Write(h.TxRoot[:])
	buf.Write(h.StateRoot[:])
	binary.Write(buf, binary.BigEndian, h.Height)
	binary.Write(buf, binary.BigEndian, h.TimestampMs)
	buf.Write(h.Proposer[:])
	binary.Write(buf, binary.BigEndian, h.GasLimit)
	binary.Write(buf, binary.BigEndian, h.GasUsed)
	binary.Write(buf, binary.BigEndian, uint32(len(h.ExtraData)))
	buf.Write(h.ExtraData)
	return buf.Bytes()
}

// Hash returns the header's content hash.
func (h *Header) Hash() cryptox.Hash {
	return cryptox.HashBytes(h.encode())
}

// Block pairs a header with the transactions it carries.
type Block struct {
	Header       Header
	Transactions []*txpool.Transaction
}

// Hash returns the block's identity, equal to its header's hash.
func (b *Block) Hash() cryptox.Hash {
	return b.Header.Hash()
}

// IsGenesis reports whether b is shaped like a genesis block: height 0,
// all-zero prev_hash, no transactions.
func (b *Block) IsGenesis() bool {
	return b.Header.Height == 0 && b.Header.PrevHash.IsZero() && len(b.Transactions) == 0
}

// ComputeTxRoot builds the Merkle root over a block's transaction hashes in
// order.
func ComputeTxRoot(txs []*txpool.Transaction) cryptox.Hash {
	leaves := make([]cryptox.Hash, len(txs))
	for i, tx := range txs {
		leaves[i] = tx.Hash()
	}
	return merkle.New(leaves).Root()
}

// ComputeGasUsed is the flat per-transaction gas model: every transaction
// costs GasPerTransaction regardless of its content.
func ComputeGasUsed(txs []*txpool.Transaction) uint64 {
	return uint64(len(txs)) * GasPerTransaction
}

// NewGenesis builds the unique height-0 block.
func NewGenesis(stateRoot cryptox.Hash, timestampMs int64, extraData []byte) *Block {
	return &Block{
		Header: Header{
			PrevHash:    cryptox.ZeroHash,
			TxRoot:      merkle.New(nil).Root(),
			StateRoot:   stateRoot,
			Height:      0,
			TimestampMs: timestampMs,
			GasLimit:    0,
			GasUsed:     0,
			ExtraData:   extraData,
		},
	}
}
