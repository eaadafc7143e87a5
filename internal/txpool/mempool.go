package txpool

import (
	"errors"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rechain/ccbft/internal/cryptox"
)

var log = logrus.WithFields(logrus.Fields{"process": "mempool"})

var (
	ErrPoolFull  = errors.New("txpool: pool full")
	ErrByteLimit = errors.New("txpool: byte limit exceeded")
	ErrDuplicate = errors.New("txpool: duplicate transaction")
	ErrNotFound  = errors.New("txpool: transaction not found")
)

// entry caches the values select_for_block and stats need so neither has to
// recompute them under lock.
type entry struct {
	tx      *Transaction
	hash    cryptox.Hash
	size    int
	feeRate uint64
}

func feeRate(fee uint64, size int) uint64 {
	if size <= 0 {
		return 0
	}
	return fee * 1000 / uint64(size)
}

// Stats is a point-in-time snapshot of pool occupancy.
type Stats struct {
	Count        int
	MaxCount     int
	CurrentBytes int
	MaxBytes     int
}

// CountUtilization returns the fraction of max_count currently occupied.
func (s Stats) CountUtilization() float64 {
	if s.MaxCount == 0 {
		return 0
	}
	return float64(s.Count) / float64(s.MaxCount)
}

// ByteUtilization returns the fraction of max_bytes currently occupied.
func (s Stats) ByteUtilization() float64 {
	if s.MaxBytes == 0 {
		return 0
	}
	return float64(s.CurrentBytes) / float64(s.MaxBytes)
}

// Mempool holds pending transactions, bounded by count and total byte size.
// Mutations are linearised through a single mutex: admission and removal of
// the same hash cannot interleave, and readers of stats/select_for_block see
// a consistent snapshot of count and byte sum. This satisfies the
// per-key-linearisability contract without needing sharded locks at this
// pool's expected scale.
type Mempool struct {
	mu           sync.RWMutex
	maxCount     int
	maxBytes     int
	byHash       map[cryptox.Hash]*entry
	bySender     map[cryptox.PublicKey]map[uint64][]cryptox.Hash
	currentBytes int
}

// New creates an empty mempool bounded by maxCount entries and maxBytes
// total transaction bytes.
func New(maxCount, maxBytes int) *Mempool {
	return &Mempool{
		maxCount: maxCount,
		maxBytes: maxBytes,
		byHash:   make(map[cryptox.Hash]*entry),
		bySender: make(map[cryptox.PublicKey]map[uint64][]cryptox.Hash),
	}
}

// Admit validates and inserts tx. A nonce collision with an already-pending
// transaction from the same sender does not reject the newcomer: both are
// retained by hash, but only the highest fee-rate transaction for that
// nonce becomes the sender's selectable candidate (see SelectForBlock).
func (m *Mempool) Admit(tx *Transaction) (cryptox.Hash, error) {
	if err := tx.Validate(); err != nil {
		return cryptox.Hash{}, err
	}

	hash := tx.Hash()
	size := tx.Size()

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byHash[hash]; exists {
		return hash, ErrDuplicate
	}
	if len(m.byHash) >= m.maxCount {
		return hash, ErrPoolFull
	}
	if m.currentBytes+size > m.maxBytes {
		return hash, ErrByteLimit
	}

	m.byHash[hash] = &entry{tx: tx, hash: hash, size: size, feeRate: feeRate(tx.Fee, size)}

	sub, ok := m.bySender[tx.From]
	if !ok {
		sub = make(map[uint64][]cryptox.Hash)
		m.bySender[tx.From] = sub
	}
	sub[tx.Nonce] = append(sub[tx.Nonce], hash)
	m.currentBytes += size

	log.WithField("hash", hash.String()).WithField("nonce", tx.Nonce).Debug("admitted transaction")
	return hash, nil
}

// Remove deletes exactly the named hash from the pool and returns the
// removed transaction. It does not touch sibling entries sharing the same
// (sender, nonce).
func (m *Mempool) Remove(hash cryptox.Hash) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(hash)
}

func (m *Mempool) removeLocked(hash cryptox.Hash) (*Transaction, error) {
	e, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.byHash, hash)
	m.currentBytes -= e.size

	if sub, ok := m.bySender[e.tx.From]; ok {
		hashes := sub[e.tx.Nonce]
		for i, h := range hashes {
			if h == hash {
				hashes = append(hashes[:i], hashes[i+1:]...)
				break
			}
		}
		if len(hashes) == 0 {
			delete(sub, e.tx.Nonce)
		} else {
			sub[e.tx.Nonce] = hashes
		}
		if len(sub) == 0 {
			delete(m.bySender, e.tx.From)
		}
	}
	return e.tx, nil
}

// EvictCommitted removes a committed transaction and every sibling pending
// transaction that shared its (sender, nonce) slot, since the sender's
// nonce has now advanced past them. It returns every transaction actually
// removed, including hash itself.
func (m *Mempool) EvictCommitted(hash cryptox.Hash) []*Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byHash[hash]
	if !ok {
		return nil
	}

	sub := m.bySender[e.tx.From]
	siblings := append([]cryptox.Hash(nil), sub[e.tx.Nonce]...)

	var removed []*Transaction
	for _, h := range siblings {
		if tx, err := m.removeLocked(h); err == nil {
			removed = append(removed, tx)
		}
	}
	return removed
}

// GetTransaction returns the pending transaction with the given hash, if
// any.
func (m *Mempool) GetTransaction(hash cryptox.Hash) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byHash[hash]
	if !ok {
		return nil, false
	}
	return e.tx, true
}

// SelectForBlock returns pending transactions ordered by strictly
// descending fee-rate, ties broken by ascending nonce. Selection stops once
// maxCount is reached; a candidate that would push the batch past maxBytes
// is skipped and smaller ones after it are still considered. Among
// nonce-colliding siblings from the same
// sender, only the highest fee-rate entry is eligible; the rest sit in the
// pool unselected unless the leading one is later evicted.
func (m *Mempool) SelectForBlock(maxCount, maxBytes int) []*Transaction {
	m.mu.RLock()
	candidates := make([]*entry, 0, len(m.byHash))
	for _, sub := range m.bySender {
		for _, hashes := range sub {
			var best *entry
			for _, h := range hashes {
				e, ok := m.byHash[h]
				if !ok {
					continue
				}
				if best == nil || e.feeRate > best.feeRate {
					best = e
				}
			}
			if best != nil {
				candidates = append(candidates, best)
			}
		}
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].feeRate != candidates[j].feeRate {
			return candidates[i].feeRate > candidates[j].feeRate
		}
		return candidates[i].tx.Nonce < candidates[j].tx.Nonce
	})

	var (
		selected []*Transaction
		count    int
		bytes    int
	)
	for _, e := range candidates {
		if count >= maxCount {
			break
		}
		if bytes+e.size > maxBytes {
			continue
		}
		selected = append(selected, e.tx)
		count++
		bytes += e.size
	}
	return selected
}

// Stats returns a consistent snapshot of pool occupancy.
func (m *Mempool) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Count:        len(m.byHash),
		MaxCount:     m.maxCount,
		CurrentBytes: m.currentBytes,
		MaxBytes:     m.maxBytes,
	}
}

// Clear removes every pending transaction.
func (m *Mempool) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byHash = make(map[cryptox.Hash]*entry)
	m.bySender = make(map[cryptox.PublicKey]map[uint64][]cryptox.Hash)
	m.currentBytes = 0
}
