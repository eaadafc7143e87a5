package consensus

import "context"

// InboundMessage pairs a delivered Message with the peer it arrived from.
type InboundMessage struct {
	PeerID  string
	Message Message
}

// Transport is the consumed external collaborator that carries consensus
// messages between replicas. No ordering guarantee across peers is
// promised and duplicates are possible; the engine must be idempotent.
type Transport interface {
	Broadcast(ctx context.Context, msg Message) error
	Inbound() <-chan InboundMessage
}
