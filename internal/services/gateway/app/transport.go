package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"

	"golang.org/x/net/websocket"
)

// DeliveryOutcome classifies one push attempt to one channel.
type DeliveryOutcome string

const (
	// OutcomeDelivered means the payload reached the channel.
	OutcomeDelivered DeliveryOutcome = "delivered"
	// OutcomeGone means the channel no longer exists and must be evicted.
	OutcomeGone DeliveryOutcome = "gone"
	// OutcomeTransient means the attempt failed without evidence the
	// channel is dead. No retry; a slow channel is not a gone channel.
	OutcomeTransient DeliveryOutcome = "transient"
)

// PushFrame is the envelope written to client channels.
type PushFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PushTransport attempts to deliver one frame to one channel.
type PushTransport interface {
	Deliver(ctx context.Context, channelID string, frame PushFrame) (DeliveryOutcome, error)
}

var errPeerClosed = errors.New("peer is closed")

// wsPeer serializes frame writes to one WebSocket connection.
type wsPeer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
	closed  bool
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		conn:    conn,
		encoder: json.NewEncoder(conn),
	}
}

func (p *wsPeer) writeFrame(ctx context.Context, frame PushFrame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPeerClosed
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = p.conn.SetWriteDeadline(deadline)
	}
	return p.encoder.Encode(frame)
}

func (p *wsPeer) close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// peerTable is the process-local map from channel ID to live WebSocket peer.
//
// This is transport bookkeeping only, never correctness state: the durable
// registry remains authoritative for which channels exist. A channel ID with
// no local peer reports gone so the dispatcher can reap its registry row.
type peerTable struct {
	mu    sync.Mutex
	peers map[string]*wsPeer
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[string]*wsPeer)}
}

func (t *peerTable) attach(channelID string, peer *wsPeer) {
	t.mu.Lock()
	t.peers[channelID] = peer
	t.mu.Unlock()
}

func (t *peerTable) detach(channelID string) {
	t.mu.Lock()
	peer, ok := t.peers[channelID]
	delete(t.peers, channelID)
	t.mu.Unlock()
	if ok {
		peer.close()
	}
}

func (t *peerTable) lookup(channelID string) (*wsPeer, bool) {
	t.mu.Lock()
	peer, ok := t.peers[channelID]
	t.mu.Unlock()
	return peer, ok
}

// Deliver implements PushTransport over the local peer table.
func (t *peerTable) Deliver(ctx context.Context, channelID string, frame PushFrame) (DeliveryOutcome, error) {
	peer, ok := t.lookup(channelID)
	if !ok {
		return OutcomeGone, nil
	}

	err := peer.writeFrame(ctx, frame)
	if err == nil {
		return OutcomeDelivered, nil
	}
	if errors.Is(err, errPeerClosed) {
		return OutcomeGone, nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return OutcomeTransient, err
	}
	// A failed write means the socket is broken; the read loop owns the
	// eviction, so the attempt itself stays transient.
	return OutcomeTransient, err
}
