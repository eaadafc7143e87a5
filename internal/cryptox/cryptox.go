// Package cryptox provides the signing, verification, and hashing
// primitives shared by the chain, mempool, and consensus packages.
package cryptox

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/agl/ed25519"
	"lukechampine.com/blake3"
)

// HashSize is the width of every content hash produced by this package.
const HashSize = 32

// Hash is a fixed-width content digest.
type Hash [HashSize]byte

// ZeroHash is the all-zero digest used for genesis's prev_hash and for an
// empty Merkle tree's root.
var ZeroHash = Hash{}

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Bytes returns a copy of the underlying digest bytes.
func (h Hash) Bytes() []byte {
	out := make([]byte, HashSize)
	copy(out, h[:])
	return out
}

// IsZero reports whether h is the all-zero digest.
func (h Hash) IsZero() bool { return h == ZeroHash }

// HashBytes returns the Blake3-256 digest of data.
func HashBytes(data []byte) Hash {
	return Hash(blake3.Sum256(data))
}

// HashConcat hashes the concatenation of chunks, used by the Merkle tree to
// combine sibling digests.
func HashConcat(chunks ...[]byte) Hash {
	h := blake3.New(HashSize, nil)
	for _, c := range chunks {
		h.Write(c)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// PublicKeySize and SignatureSize match the Ed25519 constants spec.md §3
// names explicitly.
const (
	PublicKeySize = 32
	SignatureSize = 64
)

// PublicKey is a 32-byte Ed25519 public key. It is comparable and totally
// orderable so it can be used as a map key and for deterministic iteration
// over a validator set (leader rotation tie-breaks on byte order).
type PublicKey [PublicKeySize]byte

func (p PublicKey) String() string { return hex.EncodeToString(p[:]) }

// Less implements the deterministic ordering required for leader-rotation
// tie-breaks between equal-stake validators.
func (p PublicKey) Less(other PublicKey) bool {
	return bytes.Compare(p[:], other[:]) < 0
}

// Signature is a 64-byte Ed25519 signature.
type Signature [SignatureSize]byte

// Keypair can sign arbitrary byte slices and exposes its public half.
type Keypair struct {
	public  PublicKey
	private [64]byte
}

// GenerateKeypair creates a new random Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("cryptox: generate keypair: %w", err)
	}
	kp := &Keypair{}
	copy(kp.public[:], pub[:])
	copy(kp.private[:], priv[:])
	return kp, nil
}

// PublicKey returns the keypair's public half.
func (k *Keypair) PublicKey() PublicKey { return k.public }

// Seed returns the keypair's private key bytes, suitable for writing to a
// key file. Treat this like any other secret material.
func (k *Keypair) Seed() []byte {
	out := make([]byte, len(k.private))
	copy(out, k.private[:])
	return out
}

// KeypairFromSeed reconstructs a Keypair from bytes previously returned by
// Seed.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != 64 {
		return nil, fmt.Errorf("cryptox: keypair seed must be 64 bytes, got %d", len(seed))
	}
	kp := &Keypair{}
	copy(kp.private[:], seed)
	copy(kp.public[:], seed[32:])
	return kp, nil
}

// Sign signs an arbitrary byte slice.
func (k *Keypair) Sign(message []byte) Signature {
	var priv [64]byte
	copy(priv[:], k.private[:])
	sig := ed25519.Sign(&priv, message)
	var out Signature
	copy(out[:], sig[:])
	return out
}

// Verify checks a signature against a public key and message.
func Verify(pub PublicKey, message []byte, sig Signature) bool {
	var p [32]byte
	copy(p[:], pub[:])
	var s [64]byte
	copy(s[:], sig[:])
	return ed25519.Verify(&p, message, &s)
}
