package server

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/frontdeskhq/frontdesk/internal/platform/timeouts"
	"github.com/frontdeskhq/frontdesk/internal/services/gateway/domain"
	"github.com/frontdeskhq/frontdesk/internal/services/gateway/storage"
)

// Dispatcher fans one delivery event out to every channel of its owner.
//
// Delivery is best-effort and at-most-once: each (event, channel) pair is an
// independent attempt with its own timeout, failures are logged and dropped,
// and a gone channel is lazily reaped from the registry.
type Dispatcher struct {
	store          storage.ChannelStore
	transport      PushTransport
	attemptTimeout time.Duration
	now            func() time.Time
}

// NewDispatcher creates a dispatcher over the given registry and transport.
func NewDispatcher(store storage.ChannelStore, transport PushTransport, attemptTimeout time.Duration) *Dispatcher {
	if attemptTimeout <= 0 {
		attemptTimeout = timeouts.PushAttempt
	}
	return &Dispatcher{
		store:          store,
		transport:      transport,
		attemptTimeout: attemptTimeout,
		now:            time.Now,
	}
}

// Dispatch delivers one event to all currently-open channels of its owner.
// No caller awaits a result; failures are internal.
func (d *Dispatcher) Dispatch(ctx context.Context, event domain.DeliveryEvent) {
	if d == nil || d.store == nil || d.transport == nil {
		return
	}

	channels, err := d.store.ListByOwner(ctx, event.OwnerID)
	if err != nil {
		log.Printf("gateway: list channels for owner %s: %v", event.OwnerID, err)
		return
	}
	if len(channels) == 0 {
		return
	}

	d.deliverAll(ctx, channels, PushFrame{
		Type:    string(event.Kind),
		Payload: event.Payload,
	})
}

// Broadcast delivers one payload to every registered channel of every owner.
func (d *Dispatcher) Broadcast(ctx context.Context, payload json.RawMessage) {
	if d == nil || d.store == nil || d.transport == nil {
		return
	}

	records, err := d.store.ListAll(ctx)
	if err != nil {
		log.Printf("gateway: list all channels for broadcast: %v", err)
		return
	}
	if len(records) == 0 {
		return
	}

	channels := make([]string, 0, len(records))
	for _, record := range records {
		channels = append(channels, record.ChannelID)
	}
	d.deliverAll(ctx, channels, PushFrame{
		Type:    string(domain.KindAnnouncement),
		Payload: payload,
	})
}

// deliverAll attempts every channel concurrently and returns once all
// attempts completed or timed out. A failure on one channel never aborts
// delivery to its siblings.
func (d *Dispatcher) deliverAll(ctx context.Context, channels []string, frame PushFrame) {
	var wg sync.WaitGroup
	for _, channelID := range channels {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			d.deliverOne(ctx, channelID, frame)
		}(channelID)
	}
	wg.Wait()
}

func (d *Dispatcher) deliverOne(ctx context.Context, channelID string, frame PushFrame) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	outcome, err := d.transport.Deliver(attemptCtx, channelID, frame)
	cancel()

	switch outcome {
	case OutcomeDelivered:
		if touchErr := d.store.Touch(ctx, channelID, d.now()); touchErr != nil {
			log.Printf("gateway: touch channel %s: %v", channelID, touchErr)
		}
	case OutcomeGone:
		// Lazy reap: the registry row is stale and must not be retried.
		if evictErr := d.store.Unregister(ctx, channelID); evictErr != nil {
			log.Printf("gateway: evict gone channel %s: %v", channelID, evictErr)
		}
	default:
		log.Printf("gateway: transient delivery failure on channel %s: %v", channelID, err)
	}
}
