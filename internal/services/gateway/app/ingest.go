package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/frontdeskhq/frontdesk/internal/platform/timeouts"
	"github.com/frontdeskhq/frontdesk/internal/services/gateway/domain"
)

// Ingestor turns raw provider webhook bodies into delivery events and hands
// them to the dispatcher.
//
// The hand-off is a detached, one-way message pass with at-most-once and
// no-redelivery semantics: the webhook response is never gated on fan-out,
// and a dropped event produces no error signal anywhere.
type Ingestor struct {
	directory       AccountDirectory
	dispatcher      *Dispatcher
	dispatchTimeout time.Duration

	// inflight tracks detached dispatches so shutdown and tests can drain.
	inflight sync.WaitGroup
}

// NewIngestor creates an ingestor over the given directory and dispatcher.
func NewIngestor(directory AccountDirectory, dispatcher *Dispatcher) *Ingestor {
	return &Ingestor{
		directory:       directory,
		dispatcher:      dispatcher,
		dispatchTimeout: timeouts.Dispatch,
	}
}

// IngestCall processes one provider voice webhook body. It never reports
// failure to the caller: a webhook error response would only trigger
// provider-side redelivery storms.
func (i *Ingestor) IngestCall(ctx context.Context, body []byte) {
	event, err := domain.ParseCallEvent(body)
	if err != nil {
		log.Printf("gateway: drop voice webhook: %v", err)
		return
	}
	i.resolveAndDispatch(ctx, domain.KindIncomingCall, event.BusinessNumber(), body)
}

// IngestChat processes one provider message webhook body.
func (i *Ingestor) IngestChat(ctx context.Context, body []byte) {
	event, err := domain.ParseChatEvent(body)
	if err != nil {
		log.Printf("gateway: drop message webhook: %v", err)
		return
	}
	i.resolveAndDispatch(ctx, domain.KindChatMessage, event.BusinessNumber, body)
}

// Announce fans one operator payload out to every registered channel.
func (i *Ingestor) Announce(ctx context.Context, payload []byte) {
	if i == nil || i.dispatcher == nil {
		return
	}
	body := json.RawMessage(append([]byte(nil), payload...))
	dispatchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.dispatchTimeout)
	i.inflight.Add(1)
	go func() {
		defer i.inflight.Done()
		defer cancel()
		i.dispatcher.Broadcast(dispatchCtx, body)
	}()
}

func (i *Ingestor) resolveAndDispatch(ctx context.Context, kind domain.Kind, number string, body []byte) {
	if i == nil || i.directory == nil || i.dispatcher == nil {
		return
	}

	lookupCtx, cancel := context.WithTimeout(ctx, timeouts.DirectoryLookup)
	ownerID, err := i.directory.ResolveNumber(lookupCtx, number)
	cancel()
	if err != nil {
		if errors.Is(err, ErrOwnerUnresolved) {
			log.Printf("gateway: drop %s event, no account for number %s", kind, number)
		} else {
			log.Printf("gateway: drop %s event, account lookup failed: %v", kind, err)
		}
		return
	}

	event := domain.DeliveryEvent{
		Kind:    kind,
		OwnerID: ownerID,
		Payload: json.RawMessage(append([]byte(nil), body...)),
	}

	// Detach from the webhook request so its response is not gated on
	// fan-out completion.
	dispatchCtx, cancelDispatch := context.WithTimeout(context.WithoutCancel(ctx), i.dispatchTimeout)
	i.inflight.Add(1)
	go func() {
		defer i.inflight.Done()
		defer cancelDispatch()
		i.dispatcher.Dispatch(dispatchCtx, event)
	}()
}

// drain blocks until every detached dispatch has completed.
func (i *Ingestor) drain() {
	i.inflight.Wait()
}
