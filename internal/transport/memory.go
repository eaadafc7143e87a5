// Package transport provides the in-process fan-out Transport consensus
// engines use to exchange messages in tests and in single-process
// multi-replica simulations. A real deployment swaps this for a networked
// implementation behind the same consensus.Transport interface.
package transport

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rechain/ccbft/internal/consensus"
)

var log = logrus.WithFields(logrus.Fields{"process": "transport"})

// shuffleJitter bounds the random per-peer delivery delay fanOut applies to
// each message. It exists so two messages broadcast back-to-back can arrive
// at a given peer out of send order, exercising the engine's required
// idempotence under reordering rather than relying solely on Go's
// already-randomized map iteration to vary delivery across peers.
const shuffleJitter = 3 * time.Millisecond

// Hub is the shared broadcast medium every registered peer's Link talks
// through. It delivers every broadcast message to every other registered
// peer's inbound channel; it makes no ordering or delivery guarantee beyond
// that, matching consensus.Transport's documented contract. Delivery to each
// peer is shuffled with a small random delay so messages sent in quick
// succession are not guaranteed to arrive in send order.
type Hub struct {
	mu       sync.RWMutex
	peers    map[string]*Link
	inboxCap int
}

// NewHub creates an empty hub. inboxCap bounds each peer's inbound queue;
// a peer that falls behind drops messages rather than blocking the sender.
func NewHub(inboxCap int) *Hub {
	if inboxCap <= 0 {
		inboxCap = 256
	}
	return &Hub{peers: make(map[string]*Link), inboxCap: inboxCap}
}

// Join registers a new peer and returns its Link, which implements
// consensus.Transport.
func (h *Hub) Join(peerID string) *Link {
	h.mu.Lock()
	defer h.mu.Unlock()
	l := &Link{
		hub:    h,
		peerID: peerID,
		inbox:  make(chan consensus.InboundMessage, h.inboxCap),
	}
	h.peers[peerID] = l
	return l
}

// Leave removes a peer from the hub; its Link stops receiving broadcasts.
func (h *Hub) Leave(peerID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, peerID)
}

func (h *Hub) fanOut(from string, msg consensus.Message) {
	h.mu.RLock()
	links := make([]*Link, 0, len(h.peers))
	for peerID, link := range h.peers {
		if peerID != from {
			links = append(links, link)
		}
	}
	h.mu.RUnlock()

	for _, link := range links {
		go h.deliver(from, link, msg)
	}
}

// deliver waits a small random interval before enqueuing msg on link's
// inbox, so concurrent broadcasts interleave in an order that varies from
// call to call.
func (h *Hub) deliver(from string, link *Link, msg consensus.Message) {
	if shuffleJitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(shuffleJitter))))
	}
	select {
	case link.inbox <- consensus.InboundMessage{PeerID: from, Message: msg}:
	default:
		log.WithFields(logrus.Fields{"from": from, "to": link.peerID}).Warn("peer inbox full, dropping message")
	}
}

// Link is one peer's handle onto a Hub, satisfying consensus.Transport.
type Link struct {
	hub    *Hub
	peerID string
	inbox  chan consensus.InboundMessage
}

// Broadcast fans msg out to every other peer on the hub.
func (l *Link) Broadcast(ctx context.Context, msg consensus.Message) error {
	l.hub.fanOut(l.peerID, msg)
	return nil
}

// Inbound returns the channel of messages delivered to this peer.
func (l *Link) Inbound() <-chan consensus.InboundMessage {
	return l.inbox
}
