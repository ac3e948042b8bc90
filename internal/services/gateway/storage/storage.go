// Package storage defines the durable channel registry contract.
//
// The registry is the only state shared across gateway invocations: every
// open client connection has exactly one row, keyed by channel ID. All
// operations are single-row and idempotent, which is what makes concurrent
// closes and lazy delivery reaps race-free.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates a requested channel record is missing.
var ErrNotFound = errors.New("channel not found")

// ChannelRecord stores one registered client channel.
type ChannelRecord struct {
	ChannelID    string
	OwnerID      string
	RegisteredAt time.Time
	LastSeenAt   time.Time
}

// ChannelStore persists the channel registry.
type ChannelStore interface {
	// Register upserts one channel row. Registering the same channel twice
	// refreshes metadata only; the owner is never rewritten after creation.
	Register(ctx context.Context, channelID string, ownerID string, at time.Time) error
	// Unregister deletes one channel row. A missing row is not an error.
	Unregister(ctx context.Context, channelID string) error
	// Get loads one channel row or ErrNotFound.
	Get(ctx context.Context, channelID string) (ChannelRecord, error)
	// ListByOwner returns the channel IDs currently registered for an owner.
	// Snapshot consistency only; may race concurrent register/unregister.
	ListByOwner(ctx context.Context, ownerID string) ([]string, error)
	// ListAll returns every registered channel, for broadcast fan-out.
	ListAll(ctx context.Context) ([]ChannelRecord, error)
	// Touch refreshes last_seen_at metadata. A concurrently reaped row is
	// not an error; the timestamp is observability only.
	Touch(ctx context.Context, channelID string, at time.Time) error
	// DeleteStale removes channels whose last_seen_at predates olderThan and
	// returns the number of rows removed. Backs the background sweep; lazy
	// reaping on delivery remains the primary cleanup path.
	DeleteStale(ctx context.Context, olderThan time.Time) (int, error)
}
