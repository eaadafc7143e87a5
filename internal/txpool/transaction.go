// Package txpool implements transaction validation and the prioritised
// mempool that feeds block proposals.
package txpool

import (
	"bytes"
	"encoding/binary"
	"errors"

	"github.com/rechain/ccbft/internal/cryptox"
)

// MaxDataSize is the largest payload a transaction's data field may carry.
const MaxDataSize = 1024

var (
	ErrInvalidSignature = errors.New("txpool: invalid signature")
	ErrEmptyValue       = errors.New("txpool: empty value")
	ErrDataTooLarge     = errors.New("txpool: data too large")
)

// Transaction is an immutable transfer record. Amount and Fee are denoted
// in the chain's base unit; Nonce orders a sender's transactions.
type Transaction struct {
	From      cryptox.PublicKey
	To        cryptox.PublicKey
	Amount    uint64
	Fee       uint64
	Nonce     uint64
	Data      []byte
	Signature cryptox.Signature
}

// IsCoinbase reports whether the transaction has no real sender.
func (tx *Transaction) IsCoinbase() bool {
	return tx.From == (cryptox.PublicKey{})
}

// canonicalPayload returns the deterministic byte encoding of the
// transaction with the signature field zeroed, used both for signing and
// for content hashing.
func (tx *Transaction) canonicalPayload() []byte {
	buf := new(bytes.Buffer)
	buf.Write(tx.From[:])
	buf.Write(tx.To[:])
	binary.Write(buf, binary.BigEndian, tx.Amount)
	binary.Write(buf, binary.BigEndian, tx.Fee)
	binary.Write(buf, binary.BigEndian, tx.Nonce)
	binary.Write(buf, binary.BigEndian, uint32(len(tx.Data)))
	buf.Write(tx.Data)
	return buf.Bytes()
}

// Bytes returns the full wire encoding, signature included.
func (tx *Transaction) Bytes() []byte {
	b := tx.canonicalPayload()
	return append(b, tx.Signature[:]...)
}

// Hash is the content hash of the zero-signature serialisation.
func (tx *Transaction) Hash() cryptox.Hash {
	return cryptox.HashBytes(tx.canonicalPayload())
}

// Size is the serialised byte length of the full transaction.
func (tx *Transaction) Size() int {
	return len(tx.Bytes())
}

// Sign populates Signature by signing the canonical zero-signature payload.
func (tx *Transaction) Sign(kp *cryptox.Keypair) {
	tx.From = kp.PublicKey()
	tx.Signature = kp.Sign(tx.canonicalPayload())
}

// Validate checks the transaction's standalone invariants.
func (tx *Transaction) Validate() error {
	if len(tx.Data) > MaxDataSize {
		return ErrDataTooLarge
	}
	if tx.Amount == 0 && len(tx.Data) == 0 {
		return ErrEmptyValue
	}
	if !cryptox.Verify(tx.From, tx.canonicalPayload(), tx.Signature) {
		return ErrInvalidSignature
	}
	return nil
}
