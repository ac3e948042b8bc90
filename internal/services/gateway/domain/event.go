// Package domain defines the inbound provider events the gateway fans out
// and the parsing that turns raw webhook bodies into typed events.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind identifies one delivery event type pushed to client channels.
type Kind string

const (
	// KindIncomingCall notifies clients about an inbound voice call.
	KindIncomingCall Kind = "incoming_call"
	// KindChatMessage carries an inbound provider chat message.
	KindChatMessage Kind = "chat_message"
	// KindAnnouncement carries an operator broadcast to every open channel.
	KindAnnouncement Kind = "announcement"
)

// ErrUnknownEventKind indicates a payload that maps to no supported event type.
var ErrUnknownEventKind = errors.New("unknown event kind")

// DeliveryEvent is the ephemeral unit handed from ingestion to fan-out.
// It is never persisted; a failed dispatch drops it with no redelivery.
type DeliveryEvent struct {
	Kind    Kind
	OwnerID string
	// Payload is the provider body forwarded verbatim to each channel.
	Payload json.RawMessage
}

// CallEvent is an inbound voice-call notification from the telephony provider.
type CallEvent struct {
	Event      string `json:"event"`
	CallID     string `json:"call_id"`
	ToNumber   string `json:"to"`
	FromNumber string `json:"from"`
	StartedAt  string `json:"started_at"`
}

// BusinessNumber returns the provider-side routing number owning this call.
func (e CallEvent) BusinessNumber() string {
	return strings.TrimSpace(e.ToNumber)
}

// ChatEvent is an inbound chat message from the messaging provider.
type ChatEvent struct {
	Object         string `json:"object"`
	MessageID      string `json:"message_id"`
	BusinessNumber string `json:"business_number"`
	FromNumber     string `json:"from"`
	Text           string `json:"text"`
	Timestamp      int64  `json:"timestamp"`
}

// ParseCallEvent decodes one provider call webhook body.
func ParseCallEvent(body []byte) (CallEvent, error) {
	var event CallEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return CallEvent{}, fmt.Errorf("decode call event: %w", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(event.Event), "call.") {
		return CallEvent{}, fmt.Errorf("call event %q: %w", event.Event, ErrUnknownEventKind)
	}
	if strings.TrimSpace(event.CallID) == "" {
		return CallEvent{}, errors.New("call event call_id is required")
	}
	if event.BusinessNumber() == "" {
		return CallEvent{}, errors.New("call event to number is required")
	}
	return event, nil
}

// ParseChatEvent decodes one provider message webhook body.
func ParseChatEvent(body []byte) (ChatEvent, error) {
	var event ChatEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return ChatEvent{}, fmt.Errorf("decode chat event: %w", err)
	}
	if strings.TrimSpace(event.Object) != "message" {
		return ChatEvent{}, fmt.Errorf("chat event object %q: %w", event.Object, ErrUnknownEventKind)
	}
	if strings.TrimSpace(event.MessageID) == "" {
		return ChatEvent{}, errors.New("chat event message_id is required")
	}
	if strings.TrimSpace(event.BusinessNumber) == "" {
		return ChatEvent{}, errors.New("chat event business_number is required")
	}
	return event, nil
}
