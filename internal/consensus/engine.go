package consensus

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rechain/ccbft/internal/chain"
	"github.com/rechain/ccbft/internal/cryptox"
	"github.com/rechain/ccbft/internal/safety"
	"github.com/rechain/ccbft/internal/txpool"
	"github.com/rechain/ccbft/internal/validator"
)

var log = logrus.WithFields(logrus.Fields{"process": "consensus"})

// Phase is one step of a height's progression.
type Phase int

const (
	Prepare Phase = iota
	PreVote
	PreCommit
	Commit
)

func (p Phase) String() string {
	switch p {
	case Prepare:
		return "prepare"
	case PreVote:
		return "prevote"
	case PreCommit:
		return "precommit"
	case Commit:
		return "commit"
	default:
		return "unknown"
	}
}

// voteBucket tracks, for one (height, view, phase), the most recent vote
// each signer cast. A signer voting the same hash twice is idempotent; a
// signer voting a different hash is an equivocation the safety monitor
// will have already flagged through ObserveAction.
type voteBucket struct {
	bySigner map[cryptox.PublicKey]cryptox.Hash
	sigs     map[cryptox.PublicKey]cryptox.Signature
}

func newVoteBucket() *voteBucket {
	return &voteBucket{bySigner: make(map[cryptox.PublicKey]cryptox.Hash), sigs: make(map[cryptox.PublicKey]cryptox.Signature)}
}

// heightState is the in-flight state for one height. Pipelining keeps
// several of these alive at once; only the one at nextCommitHeight may
// actually commit.
type heightState struct {
	height          uint64
	view            uint64
	phase           Phase
	pendingProposal *chain.Block
	lockedBlock     *chain.Block
	preVotes        map[uint64]*voteBucket // keyed by view
	preCommits      map[uint64]*voteBucket
	viewChangeVotes map[uint64]map[cryptox.PublicKey]*chain.Block // newView -> signer -> reported locked block
	viewChangeCount int
	phaseDeadline   time.Time
	startedAt       time.Time
	committed       bool
	quorumCert      *AggregateSignature // set at commit time when aggregate_signatures is enabled
}

func newHeightState(height uint64, now time.Time) *heightState {
	return &heightState{
		height:          height,
		phase:           Prepare,
		preVotes:        make(map[uint64]*voteBucket),
		preCommits:      make(map[uint64]*voteBucket),
		viewChangeVotes: make(map[uint64]map[cryptox.PublicKey]*chain.Block),
		startedAt:       now,
	}
}

func (hs *heightState) preVoteBucket(view uint64) *voteBucket {
	b, ok := hs.preVotes[view]
	if !ok {
		b = newVoteBucket()
		hs.preVotes[view] = b
	}
	return b
}

func (hs *heightState) preCommitBucket(view uint64) *voteBucket {
	b, ok := hs.preCommits[view]
	if !ok {
		b = newVoteBucket()
		hs.preCommits[view] = b
	}
	return b
}

// Engine drives ccBFT's height/view/round/phase state machine. It is built
// to be driven entirely from its own Run goroutine. The snapshot accessors
// (Height, ConsensusState, GetMetrics) and the façade accessors that
// delegate to the internally locked chain and mempool (GetHeight,
// GetBlockByHeight, GetBlock, SubmitTransaction, GetMempoolStats,
// GetConsensusState) are safe to call concurrently with Run; the other
// methods are not.
type Engine struct {
	cfg        Config
	chain      *chain.Chain
	mempool    *txpool.Mempool
	validators *validator.Set
	safety     *safety.Monitor
	transport  Transport
	self       *cryptox.Keypair

	heights          map[uint64]*heightState
	nextCommitHeight uint64
	faultCursor      uint64
	metrics          *metricsRegistry
	onCommit         func(*chain.Block)

	snapMu sync.RWMutex
	snap   snapshot

	stopOnce sync.Once
	stopCh   chan struct{}
}

type snapshot struct {
	height uint64
	view   uint64
	round  uint64
	phase  Phase
}

// New builds an engine anchored at the chain's current head.
func New(cfg Config, c *chain.Chain, mempool *txpool.Mempool, validators *validator.Set, monitor *safety.Monitor, transport Transport, self *cryptox.Keypair) *Engine {
	now := time.Now()
	return &Engine{
		cfg:              cfg,
		chain:            c,
		mempool:          mempool,
		validators:       validators,
		safety:           monitor,
		transport:        transport,
		self:             self,
		heights:          make(map[uint64]*heightState),
		nextCommitHeight: c.HeadHeight() + 1,
		metrics:          newMetricsRegistry(now),
		stopCh:           make(chan struct{}),
	}
}

// Run drives the event loop until ctx is cancelled or Stop is called. It
// services inbound transport messages and a periodic tick that ages the
// safety monitor's health score and checks phase deadlines.
func (e *Engine) Run(ctx context.Context) {
	now := time.Now()
	e.startHeightView(e.nextCommitHeight, 0, now)

	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case in := <-e.transport.Inbound():
			e.handleInbound(in.Message, time.Now())
		case t := <-ticker.C:
			e.safety.Tick(t)
			e.checkTimeouts(t)
		}
	}
}

// Stop ends the event loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// SetCommitHook registers fn to run synchronously, in commit order, right
// after each block is appended to the chain. It is nil by default; a node
// wires it to checkpoint storage so a restart has something newer than
// genesis to resume from.
func (e *Engine) SetCommitHook(fn func(*chain.Block)) {
	e.onCommit = fn
}

func (e *Engine) scaledTimeout(base time.Duration) time.Duration {
	if !e.cfg.AdaptiveTimeouts {
		return base
	}
	health := e.safety.Health()
	multiplier := 1.0
	if health > 0 {
		multiplier = math.Max(1.0, 1.0/health)
	}
	return time.Duration(float64(base) * multiplier)
}

// leaderFor returns the designated leader for (height, view): the active,
// non-suspect validator at index (height+view) mod |active set| in
// stake-descending order, ties broken by public-key byte order.
func (e *Engine) leaderFor(height, view uint64) (cryptox.PublicKey, bool) {
	ordered := e.validators.ActiveOrdered()
	var eligible []cryptox.PublicKey
	for _, r := range ordered {
		if !e.safety.IsSuspect(r.PublicKey) {
			eligible = append(eligible, r.PublicKey)
		}
	}
	if len(eligible) == 0 {
		return cryptox.PublicKey{}, false
	}
	idx := (height + view) % uint64(len(eligible))
	return eligible[idx], true
}

func (e *Engine) isSelf(pub cryptox.PublicKey) bool {
	return e.self != nil && pub == e.self.PublicKey()
}

func (e *Engine) fastThresholdStake() uint64 {
	total := e.validators.TotalActiveStake()
	return uint64(math.Ceil(float64(total) * e.cfg.FastPathThreshold))
}

func (e *Engine) tallyStake(bucket *voteBucket, target cryptox.Hash) uint64 {
	var total uint64
	for signer, hash := range bucket.bySigner {
		if hash != target {
			continue
		}
		if rec, ok := e.validators.Get(signer); ok && rec.Status == validator.Active {
			total += rec.Stake
		}
	}
	return total
}

func (e *Engine) updateSnapshot(hs *heightState) {
	e.snapMu.Lock()
	defer e.snapMu.Unlock()
	e.snap = snapshot{height: hs.height, view: hs.view, round: 0, phase: hs.phase}
}

// Height returns the chain height the engine is currently trying to
// commit.
func (e *Engine) Height() uint64 {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap.height
}

// ConsensusState returns (height, view, round, phase) for the façade.
func (e *Engine) ConsensusState() (uint64, uint64, uint64, Phase) {
	e.snapMu.RLock()
	defer e.snapMu.RUnlock()
	return e.snap.height, e.snap.view, e.snap.round, e.snap.phase
}

// GetMetrics returns a snapshot of engine metrics.
func (e *Engine) GetMetrics() Metrics {
	return e.metrics.snapshot()
}

// GetHeight returns the chain's finalised head height, the façade's
// get_height().
func (e *Engine) GetHeight() uint64 {
	return e.chain.HeadHeight()
}

// GetBlockByHeight returns the canonical block at h, if any.
func (e *Engine) GetBlockByHeight(h uint64) (*chain.Block, bool) {
	return e.chain.ByHeight(h)
}

// GetBlock returns the block with the given hash, canonical or not.
func (e *Engine) GetBlock(hash cryptox.Hash) (*chain.Block, bool) {
	return e.chain.ByHash(hash)
}

// SubmitTransaction validates and admits tx to the mempool, returning its
// hash on success.
func (e *Engine) SubmitTransaction(tx *txpool.Transaction) (cryptox.Hash, error) {
	return e.mempool.Admit(tx)
}

// GetMempoolStats returns the mempool's current occupancy.
func (e *Engine) GetMempoolStats() txpool.Stats {
	return e.mempool.Stats()
}

// GetConsensusState is the façade-facing alias for ConsensusState.
func (e *Engine) GetConsensusState() (uint64, uint64, uint64, Phase) {
	return e.ConsensusState()
}

func (e *Engine) heightFor(height uint64, now time.Time) *heightState {
	hs, ok := e.heights[height]
	if !ok {
		hs = newHeightState(height, now)
		e.heights[height] = hs
	}
	return hs
}

// acceptsHeight reports whether a proposal at this height should be
// admitted given pipeline depth.
func (e *Engine) acceptsHeight(height uint64) bool {
	if height < e.nextCommitHeight {
		return false
	}
	if !e.cfg.PipeliningEnabled {
		return height == e.nextCommitHeight
	}
	return height < e.nextCommitHeight+uint64(e.cfg.MaxParallelBlocks)
}

// broadcast signs msg with this replica's key and sends it to every other
// peer, returning the signed copy so the caller can also process it as if
// it had arrived over the transport — the hub/fake transports used to
// carry these messages never deliver a broadcast back to its own sender.
func (e *Engine) broadcast(msg Message) Message {
	msg.Sign(e.self)
	if err := e.transport.Broadcast(context.Background(), msg); err != nil {
		log.WithError(err).Warn("broadcast failed")
	}
	return msg
}

// startHeightView begins Prepare for (height, view): if this replica is
// the leader it builds and broadcasts a proposal, otherwise it waits.
func (e *Engine) startHeightView(height, view uint64, now time.Time) {
	if !e.acceptsHeight(height) {
		return
	}
	hs := e.heightFor(height, now)
	hs.view = view
	hs.phase = Prepare
	hs.pendingProposal = nil
	e.metrics.update(func(m *Metrics) { m.RoundsAttempted++ })

	leader, ok := e.leaderFor(height, view)
	if ok && e.isSelf(leader) {
		block := e.buildProposal(height, now)
		hs.pendingProposal = block
		proposal := e.broadcast(Message{Kind: KindProposal, Height: height, View: view, BlockHash: block.Hash(), Block: block})
		e.metrics.update(func(m *Metrics) { m.Proposed++ })
		// The transport never loops a broadcast back to its sender, so the
		// leader has to process its own proposal directly — otherwise it
		// never casts a PreVote for the block it just proposed.
		e.handleProposal(proposal, now)
		return
	}

	hs.phaseDeadline = now.Add(e.scaledTimeout(e.cfg.ProposalTimeout))
	if height == e.nextCommitHeight {
		e.updateSnapshot(hs)
	}
}

// buildProposal assembles a block for height from the mempool, chaining
// off the chain head or, under pipelining, off a still-uncommitted
// speculative parent.
func (e *Engine) buildProposal(height uint64, now time.Time) *chain.Block {
	parentHash := e.chain.Head().Hash()
	if parent, ok := e.heights[height-1]; ok && parent.pendingProposal != nil {
		parentHash = parent.pendingProposal.Hash()
	}

	txs := e.mempool.SelectForBlock(e.cfg.MaxTxsPerBlock, e.cfg.MaxBlockBytes)
	header := chain.Header{
		PrevHash:    parentHash,
		TxRoot:      chain.ComputeTxRoot(txs),
		StateRoot:   cryptox.ZeroHash,
		Height:      height,
		TimestampMs: now.UnixMilli(),
		GasLimit:    e.cfg.GasLimitPerBlock,
		GasUsed:     chain.ComputeGasUsed(txs),
	}
	if e.self != nil {
		header.Proposer = e.self.PublicKey()
	}
	return &chain.Block{Header: header, Transactions: txs}
}

func (e *Engine) handleInbound(msg Message, now time.Time) {
	if !msg.VerifySignature() {
		e.safety.ObserveInvalidSignature(msg.Signer, msg.Height, msg.View, msg.Round, now)
		log.WithFields(logrus.Fields{"kind": msg.Kind.String(), "signer": msg.Signer.String()}).Warn("dropping message with invalid signature")
		return
	}
	switch msg.Kind {
	case KindProposal:
		e.handleProposal(msg, now)
	case KindPreVote:
		e.handleVote(msg, now, false)
	case KindPreCommit:
		e.handleVote(msg, now, true)
	case KindViewChange:
		e.handleViewChange(msg, now)
	case KindNewView:
		e.handleNewView(msg, now)
	}
}

func (e *Engine) handleProposal(msg Message, now time.Time) {
	if !e.acceptsHeight(msg.Height) {
		return
	}
	hs := e.heightFor(msg.Height, now)
	if msg.View < hs.view || hs.committed {
		return
	}

	leader, ok := e.leaderFor(msg.Height, msg.View)
	valid := ok && leader == msg.Signer && msg.Block != nil
	if valid {
		if err := chain.ValidateBlock(msg.Block, now); err != nil {
			valid = false
		}
	}

	e.safety.ObserveAction(msg.Signer, safety.Action{Kind: safety.ProposalMade, Height: msg.Height, View: msg.View, BlockHash: msg.BlockHash, Valid: valid}, now)

	voteHash := cryptox.ZeroHash
	isNil := true
	if valid {
		hs.pendingProposal = msg.Block
		voteHash = msg.Block.Hash()
		isNil = false
	}

	hs.phase = PreVote
	hs.view = msg.View
	hs.phaseDeadline = now.Add(e.scaledTimeout(e.cfg.PreVoteTimeout))

	e.castVote(hs, KindPreVote, msg.Height, msg.View, voteHash, isNil, now)
	if msg.Height == e.nextCommitHeight {
		e.updateSnapshot(hs)
	}
}

// castVote broadcasts this replica's own vote and, since the transport
// never delivers a broadcast back to its sender, immediately feeds the
// signed copy back through handleVote so self-votes count toward quorum
// exactly like votes received over the wire.
func (e *Engine) castVote(hs *heightState, kind Kind, height, view uint64, blockHash cryptox.Hash, isNil bool, now time.Time) {
	vote := e.broadcast(Message{Kind: kind, Height: height, View: view, BlockHash: blockHash, Nil: isNil})
	e.handleVote(vote, now, kind == KindPreCommit)
}

func (e *Engine) handleVote(msg Message, now time.Time, isPreCommit bool) {
	if !e.acceptsHeight(msg.Height) {
		return
	}
	hs := e.heightFor(msg.Height, now)
	if hs.committed {
		return
	}

	e.safety.ObserveAction(msg.Signer, safety.Action{Kind: safety.VoteCast, Height: msg.Height, View: msg.View, BlockHash: msg.BlockHash, Consistent: !msg.Nil}, now)

	var bucket *voteBucket
	if isPreCommit {
		bucket = hs.preCommitBucket(msg.View)
	} else {
		bucket = hs.preVoteBucket(msg.View)
	}
	bucket.bySigner[msg.Signer] = msg.BlockHash
	bucket.sigs[msg.Signer] = msg.Signature

	if msg.Nil || msg.BlockHash.IsZero() {
		return
	}

	required := e.validators.RequiredStakeForConsensus()
	stake := e.tallyStake(bucket, msg.BlockHash)

	if !isPreCommit {
		if hs.phase != PreVote || msg.View != hs.view {
			return
		}
		if e.cfg.FastPathEnabled && stake >= e.fastThresholdStake() && hs.pendingProposal != nil && hs.pendingProposal.Hash() == msg.BlockHash {
			e.metrics.update(func(m *Metrics) { m.FastPathCommits++ })
			hs.quorumCert = e.buildQuorumCert(bucket, required)
			e.commitBlock(hs, hs.pendingProposal, now)
			return
		}
		if stake >= required {
			hs.phase = PreCommit
			hs.phaseDeadline = now.Add(e.scaledTimeout(e.cfg.PreCommitTimeout))
			e.castVote(hs, KindPreCommit, msg.Height, msg.View, msg.BlockHash, false, now)
			if msg.Height == e.nextCommitHeight {
				e.updateSnapshot(hs)
			}
		}
		return
	}

	if hs.phase != PreCommit || msg.View != hs.view {
		return
	}
	if stake >= required && hs.pendingProposal != nil && hs.pendingProposal.Hash() == msg.BlockHash {
		hs.quorumCert = e.buildQuorumCert(bucket, required)
		e.commitBlock(hs, hs.pendingProposal, now)
	}
}

// buildQuorumCert assembles the commit quorum's aggregate signature (from the
// PreCommit bucket, or the PreVote bucket on the fast path) when
// aggregate_signatures is enabled, independently re-deriving the
// contributing stake from the collected signatures rather than trusting
// the caller's tally. It returns nil when the feature is off or the
// aggregate's own stake accounting falls short of required, in which case
// the commit proceeds on the already-verified per-message tally alone.
func (e *Engine) buildQuorumCert(bucket *voteBucket, required uint64) *AggregateSignature {
	if !e.cfg.AggregateSignatures {
		return nil
	}
	active := e.validators.ActiveOrdered()
	order := make([]cryptox.PublicKey, len(active))
	for i, r := range active {
		order[i] = r.PublicKey
	}
	cert := NewAggregateSignature(order, bucket.sigs)
	stakeOf := func(pub cryptox.PublicKey) uint64 {
		if rec, ok := e.validators.Get(pub); ok && rec.Status == validator.Active {
			return rec.Stake
		}
		return 0
	}
	if cert.ContributingStake(stakeOf) < required {
		log.Warn("aggregate signature stake fell short of quorum, committing on per-message tally only")
		return nil
	}
	return cert
}

func (e *Engine) commitBlock(hs *heightState, block *chain.Block, now time.Time) {
	if block.Header.Height != e.nextCommitHeight {
		// Pipelined block ready ahead of an earlier height; it will commit
		// once that earlier height clears.
		hs.lockedBlock = block
		return
	}

	if err := e.chain.AddBlock(block, now); err != nil {
		log.WithError(err).WithField("height", block.Header.Height).Warn("commit failed block validation")
		return
	}

	for _, tx := range block.Transactions {
		e.mempool.EvictCommitted(tx.Hash())
	}

	hs.phase = Commit
	hs.committed = true
	hs.lockedBlock = block

	hasQuorumCert := hs.quorumCert != nil
	e.metrics.update(func(m *Metrics) {
		m.BlocksProcessed++
		m.RoundsSucceeded++
		m.TotalFinalityTime += now.Sub(hs.startedAt)
		m.TotalTxCommitted += uint64(len(block.Transactions))
		if hasQuorumCert {
			m.AggregatedCommits++
		}
	})

	delete(e.heights, block.Header.Height)
	e.nextCommitHeight++

	if e.onCommit != nil {
		e.onCommit(block)
	}

	log.WithField("height", block.Header.Height).Info("block committed")

	if next, ok := e.heights[e.nextCommitHeight]; ok && next.lockedBlock != nil {
		e.commitBlock(next, next.lockedBlock, now)
		return
	}

	e.startHeightView(e.nextCommitHeight, 0, now)
}

func (e *Engine) checkTimeouts(now time.Time) {
	for height, hs := range e.heights {
		if hs.committed || hs.phaseDeadline.IsZero() || now.Before(hs.phaseDeadline) {
			continue
		}
		e.triggerViewChange(height, hs, now)
	}
}

func (e *Engine) triggerViewChange(height uint64, hs *heightState, now time.Time) {
	newView := hs.view + 1
	hs.view = newView
	hs.phase = PreVote
	hs.pendingProposal = nil
	hs.viewChangeCount++
	hs.phaseDeadline = now.Add(e.scaledTimeout(e.cfg.ViewChangeTimeout))

	e.metrics.update(func(m *Metrics) { m.ViewChanges++ })

	// Pipelined proposals speculatively built on top of this height are
	// invalidated now that it is restarting.
	for h := range e.heights {
		if h > height {
			delete(e.heights, h)
		}
	}

	e.broadcast(Message{Kind: KindViewChange, Height: height, View: newView, Block: hs.lockedBlock})

	if hs.viewChangeVotes[newView] == nil {
		hs.viewChangeVotes[newView] = make(map[cryptox.PublicKey]*chain.Block)
	}
	selfPub := cryptox.PublicKey{}
	if e.self != nil {
		selfPub = e.self.PublicKey()
	}
	hs.viewChangeVotes[newView][selfPub] = hs.lockedBlock

	if hs.viewChangeCount >= e.cfg.MaxViewChangesBeforeEscalation {
		e.safety.EscalateStalledHeight(height, hs.viewChangeCount)
	}

	if height == e.nextCommitHeight {
		e.updateSnapshot(hs)
	}
}

func (e *Engine) handleViewChange(msg Message, now time.Time) {
	if !e.acceptsHeight(msg.Height) {
		return
	}
	hs := e.heightFor(msg.Height, now)
	if hs.committed {
		return
	}

	e.safety.ObserveAction(msg.Signer, safety.Action{Kind: safety.ViewChangeSent, Height: msg.Height, View: msg.View}, now)

	if hs.viewChangeVotes[msg.View] == nil {
		hs.viewChangeVotes[msg.View] = make(map[cryptox.PublicKey]*chain.Block)
	}
	hs.viewChangeVotes[msg.View][msg.Signer] = msg.Block

	var stake uint64
	var witnessed *chain.Block
	for signer, block := range hs.viewChangeVotes[msg.View] {
		if rec, ok := e.validators.Get(signer); ok && rec.Status == validator.Active {
			stake += rec.Stake
		}
		if block != nil && (witnessed == nil || block.Header.Height > witnessed.Header.Height) {
			witnessed = block
		}
	}

	required := e.validators.RequiredStakeForConsensus()
	if stake < required {
		return
	}

	leader, ok := e.leaderFor(msg.Height, msg.View)
	if !ok {
		return
	}

	hs.view = msg.View
	hs.lockedBlock = witnessed

	if e.isSelf(leader) {
		e.broadcast(Message{Kind: KindNewView, Height: msg.Height, View: msg.View, Block: witnessed})
		e.startHeightView(msg.Height, msg.View, now)
	}
}

func (e *Engine) handleNewView(msg Message, now time.Time) {
	if !e.acceptsHeight(msg.Height) {
		return
	}
	leader, ok := e.leaderFor(msg.Height, msg.View)
	if !ok || leader != msg.Signer {
		return
	}
	hs := e.heightFor(msg.Height, now)
	if hs.committed {
		return
	}
	hs.view = msg.View
	hs.phase = Prepare
	hs.pendingProposal = nil
	hs.phaseDeadline = now.Add(e.scaledTimeout(e.cfg.ProposalTimeout))
	if witnessed := msg.Block; witnessed != nil {
		hs.lockedBlock = witnessed
	}
	if msg.Height == e.nextCommitHeight {
		e.updateSnapshot(hs)
	}
}
