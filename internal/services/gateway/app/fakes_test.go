package server

import (
	"context"
	"sync"
	"time"

	"github.com/frontdeskhq/frontdesk/internal/services/gateway/storage"
)

// fakeChannelStore is an in-memory storage.ChannelStore for exercising the
// dispatcher and lifecycle paths without sqlite.
type fakeChannelStore struct {
	mu           sync.Mutex
	records      map[string]storage.ChannelRecord
	touched      []string
	unregistered []string

	listByOwnerErr error
	listAllErr     error
	registerErr    error
}

func newFakeChannelStore() *fakeChannelStore {
	return &fakeChannelStore{records: make(map[string]storage.ChannelRecord)}
}

func (s *fakeChannelStore) Register(_ context.Context, channelID string, ownerID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.registerErr != nil {
		return s.registerErr
	}
	if existing, ok := s.records[channelID]; ok {
		existing.LastSeenAt = at
		s.records[channelID] = existing
		return nil
	}
	s.records[channelID] = storage.ChannelRecord{
		ChannelID:    channelID,
		OwnerID:      ownerID,
		RegisteredAt: at,
		LastSeenAt:   at,
	}
	return nil
}

func (s *fakeChannelStore) Unregister(_ context.Context, channelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, channelID)
	s.unregistered = append(s.unregistered, channelID)
	return nil
}

func (s *fakeChannelStore) Get(_ context.Context, channelID string) (storage.ChannelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[channelID]
	if !ok {
		return storage.ChannelRecord{}, storage.ErrNotFound
	}
	return record, nil
}

func (s *fakeChannelStore) ListByOwner(_ context.Context, ownerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listByOwnerErr != nil {
		return nil, s.listByOwnerErr
	}
	var channels []string
	for _, record := range s.records {
		if record.OwnerID == ownerID {
			channels = append(channels, record.ChannelID)
		}
	}
	return channels, nil
}

func (s *fakeChannelStore) ListAll(_ context.Context) ([]storage.ChannelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listAllErr != nil {
		return nil, s.listAllErr
	}
	var records []storage.ChannelRecord
	for _, record := range s.records {
		records = append(records, record)
	}
	return records, nil
}

func (s *fakeChannelStore) Touch(_ context.Context, channelID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, channelID)
	if record, ok := s.records[channelID]; ok {
		record.LastSeenAt = at
		s.records[channelID] = record
	}
	return nil
}

func (s *fakeChannelStore) DeleteStale(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for channelID, record := range s.records {
		if record.LastSeenAt.Before(olderThan) {
			delete(s.records, channelID)
			removed++
		}
	}
	return removed, nil
}

func (s *fakeChannelStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeChannelStore) touchedChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.touched...)
}

func (s *fakeChannelStore) unregisteredChannels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.unregistered...)
}

// fakeTransport records delivery attempts and answers with scripted
// outcomes per channel.
type fakeTransport struct {
	mu       sync.Mutex
	outcomes map[string]DeliveryOutcome
	frames   map[string][]PushFrame
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		outcomes: make(map[string]DeliveryOutcome),
		frames:   make(map[string][]PushFrame),
	}
}

func (t *fakeTransport) Deliver(_ context.Context, channelID string, frame PushFrame) (DeliveryOutcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames[channelID] = append(t.frames[channelID], frame)
	if outcome, ok := t.outcomes[channelID]; ok {
		return outcome, nil
	}
	return OutcomeDelivered, nil
}

func (t *fakeTransport) framesFor(channelID string) []PushFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]PushFrame(nil), t.frames[channelID]...)
}

func (t *fakeTransport) attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, frames := range t.frames {
		total += len(frames)
	}
	return total
}

// fakeDirectory resolves numbers from a static map.
type fakeDirectory struct {
	owners map[string]string
	err    error
}

func (d *fakeDirectory) ResolveNumber(_ context.Context, number string) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	ownerID, ok := d.owners[number]
	if !ok {
		return "", ErrOwnerUnresolved
	}
	return ownerID, nil
}

// fakeVerifier accepts tokens from a static map.
type fakeVerifier struct {
	accounts map[string]string
}

func (v *fakeVerifier) Verify(token string) (string, error) {
	accountID, ok := v.accounts[token]
	if !ok {
		return "", errRejectedToken
	}
	return accountID, nil
}

var errRejectedToken = errForTest("token rejected")

type errForTest string

func (e errForTest) Error() string { return string(e) }
