package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/frontdeskhq/frontdesk/internal/services/gateway/storage"
	"golang.org/x/net/websocket"
)

const maxDecodeErrorsPerConn = 3

// TokenVerifier validates a channel bearer token and returns the account
// identity it authenticates as.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type wsIdentityContextKey struct{}

type wsIdentity struct {
	channelID string
	ownerID   string
}

type clientFrame struct {
	Type string `json:"type"`
}

// newChannelID mints a transport-assigned identifier, unique for the
// lifetime of one physical connection. A reconnect always gets a new one.
func newChannelID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		return "ch_" + hex.EncodeToString([]byte(time.Now().UTC().Format(time.RFC3339Nano)))
	}
	return "ch_" + hex.EncodeToString(buf)
}

// handleChannelOpen is the HTTP side of the channel state machine: verify
// the credential before upgrading, so a rejected open never creates state.
func (h *handlers) handleChannelOpen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.verifier == nil {
		http.Error(w, "channel auth is not configured", http.StatusServiceUnavailable)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	ownerID, err := h.verifier.Verify(token)
	if err != nil || strings.TrimSpace(ownerID) == "" {
		log.Printf("gateway: channel rejected for remote=%s: %v", r.RemoteAddr, err)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return
	}

	identity := wsIdentity{
		channelID: newChannelID(),
		ownerID:   strings.TrimSpace(ownerID),
	}
	ctx := context.WithValue(r.Context(), wsIdentityContextKey{}, identity)
	h.wsHandler.ServeHTTP(w, r.WithContext(ctx))
}

// handleChannelConn runs one registered channel from upgrade to close.
//
// The peer is attached to the local table before the registry write so a
// concurrent fan-out cannot observe the row without a reachable peer and
// reap a live connection.
func (h *handlers) handleChannelConn(conn *websocket.Conn) {
	defer func() {
		_ = conn.Close()
	}()

	request := conn.Request()
	if request == nil {
		return
	}
	identity, ok := request.Context().Value(wsIdentityContextKey{}).(wsIdentity)
	if !ok {
		return
	}

	peer := newWSPeer(conn)
	h.peers.attach(identity.channelID, peer)
	defer h.peers.detach(identity.channelID)

	if err := h.store.Register(request.Context(), identity.channelID, identity.ownerID, time.Now()); err != nil {
		// Fatal for this connect attempt; the ws-level 500 equivalent is
		// an error frame followed by close.
		log.Printf("gateway: register channel %s: %v", identity.channelID, err)
		_ = peer.writeFrame(request.Context(), PushFrame{
			Type:    "error",
			Payload: mustJSON(map[string]string{"code": "UNAVAILABLE", "message": "channel registration failed"}),
		})
		return
	}
	defer h.closeChannel(identity.channelID)

	_ = peer.writeFrame(request.Context(), PushFrame{
		Type:    "connected",
		Payload: mustJSON(map[string]string{"channel_id": identity.channelID}),
	})

	decoder := json.NewDecoder(conn)
	decodeErrors := 0
	for {
		var frame clientFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			decodeErrors++
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			continue
		}
		decodeErrors = 0

		switch frame.Type {
		case "ping":
			if err := h.store.Touch(request.Context(), identity.channelID, time.Now()); err != nil {
				log.Printf("gateway: touch channel %s: %v", identity.channelID, err)
			}
			_ = peer.writeFrame(request.Context(), PushFrame{Type: "pong"})
		default:
			// Clients only push keepalives; anything else is ignored.
		}
	}
}

// closeChannel removes the registry row after the transport reported the
// connection closed. The peer is already gone, so failures are logged only.
func (h *handlers) closeChannel(channelID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.Unregister(ctx, channelID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("gateway: unregister channel %s: %v", channelID, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("failed to marshal channel frame payload: %v", err)
		return nil
	}
	return b
}
