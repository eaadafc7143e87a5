package chain

import (
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rechain/ccbft/internal/cryptox"
)

var log = logrus.WithFields(logrus.Fields{"process": "chain"})

// MaxClockDrift bounds how far into the future a block's timestamp may sit
// relative to the validating replica's wall clock.
const MaxClockDrift = 30 * time.Second

var (
	ErrNotGenesisShaped = errors.New("chain: block is not genesis-shaped")
	ErrBadTimestamp     = errors.New("chain: timestamp too far in the future")
	ErrBadMerkleRoot    = errors.New("chain: tx_root does not match transactions")
	ErrGasOverflow      = errors.New("chain: gas_used exceeds gas_limit")
	ErrParentMissing    = errors.New("chain: parent block not found")
	ErrBadHeight        = errors.New("chain: height does not follow parent")
)

// Chain is the append-only, hash- and height-indexed store of finalised
// blocks, with a single mutable head. It never removes blocks: forks that
// lose the head race stay addressable by hash but drop off the height
// index.
type Chain struct {
	mu      sync.RWMutex
	byHash  map[cryptox.Hash]*Block
	byHeight map[uint64]cryptox.Hash
	genesis cryptox.Hash
	head    cryptox.Hash
}

// New constructs a chain anchored at genesis. It fails if genesis is not
// shaped like a genesis block.
func New(genesis *Block) (*Chain, error) {
	if !genesis.IsGenesis() {
		return nil, ErrNotGenesisShaped
	}
	hash := genesis.Hash()
	c := &Chain{
		byHash:   map[cryptox.Hash]*Block{hash: genesis},
		byHeight: map[uint64]cryptox.Hash{0: hash},
		genesis:  hash,
		head:     hash,
	}
	return c, nil
}

// ValidateBlock checks a block's standalone invariants, independent of its
// position in any chain.
func ValidateBlock(b *Block, now time.Time) error {
	deadline := now.Add(MaxClockDrift).UnixMilli()
	if b.Header.TimestampMs > deadline {
		return ErrBadTimestamp
	}
	if ComputeTxRoot(b.Transactions) != b.Header.TxRoot {
		return ErrBadMerkleRoot
	}
	for _, tx := range b.Transactions {
		if err := tx.Validate(); err != nil {
			return err
		}
	}
	if ComputeGasUsed(b.Transactions) > b.Header.GasLimit {
		return ErrGasOverflow
	}
	return nil
}

// AddBlock validates b, then links it into the chain. Re-adding an
// already-known hash succeeds idempotently.
func (c *Chain) AddBlock(b *Block, now time.Time) error {
	if err := ValidateBlock(b, now); err != nil {
		return err
	}

	hash := b.Hash()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byHash[hash]; exists {
		return nil
	}

	if b.Header.Height != 0 {
		parent, ok := c.byHash[b.Header.PrevHash]
		if !ok {
			return ErrParentMissing
		}
		if b.Header.Height != parent.Header.Height+1 {
			return ErrBadHeight
		}
	}

	c.byHash[hash] = b

	headBlock := c.byHash[c.head]
	if b.Header.Height > headBlock.Header.Height {
		c.byHeight[b.Header.Height] = hash
		c.head = hash
		log.WithField("height", b.Header.Height).WithField("hash", hash.String()).Info("new head")
	} else {
		log.WithField("height", b.Header.Height).WithField("hash", hash.String()).Info("accepted fork block")
	}

	return nil
}

// ByHash returns the block with the given hash, if known.
func (c *Chain) ByHash(hash cryptox.Hash) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.byHash[hash]
	return b, ok
}

// ByHeight returns the canonical block at height h, if any.
func (c *Chain) ByHeight(h uint64) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hash, ok := c.byHeight[h]
	if !ok {
		return nil, false
	}
	return c.byHash[hash], true
}

// Head returns the current canonical tip.
func (c *Chain) Head() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byHash[c.head]
}

// Genesis returns the chain's immutable genesis block.
func (c *Chain) Genesis() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byHash[c.genesis]
}

// Has reports whether hash is known to the chain, canonical or not.
func (c *Chain) Has(hash cryptox.Hash) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byHash[hash]
	return ok
}

// HeadHeight is a convenience accessor over Head().Header.Height.
func (c *Chain) HeadHeight() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.byHash[c.head].Header.Height
}
