package unread

import (
	"context"
	"strings"
)

// Key identifies one counter.
type Key struct {
	UserID    string
	ChannelID string
}

func (k Key) String() string {
	return k.UserID + "|" + k.ChannelID
}

func parseKey(s string) (Key, bool) {
	user, channel, ok := strings.Cut(s, "|")
	if !ok || user == "" || channel == "" {
		return Key{}, false
	}
	return Key{UserID: user, ChannelID: channel}, true
}

// Store holds, per key, the set of unread message ids and the read
// watermark. A key is "known" once it has a watermark; until then its set may
// be incomplete and must be reconciled before being trusted.
type Store interface {
	// Add records msgID as unread unless it is at or below the watermark.
	// Re-adding the same id is a no-op.
	Add(ctx context.Context, key Key, msgID uint64) error
	// MarkRead drops every id <= upTo and raises the watermark to upTo.
	// Ids above upTo are kept.
	MarkRead(ctx context.Context, key Key, upTo uint64) error
	// Remove drops a single id (soft-deleted message).
	Remove(ctx context.Context, key Key, msgID uint64) error
	// Count returns the size of the set and whether the key is known.
	Count(ctx context.Context, key Key) (count int64, known bool, err error)
	// Reconcile replaces every id <= cutoff with ids, raises the watermark to
	// at least lastRead and returns the resulting count.
	Reconcile(ctx context.Context, key Key, ids []uint64, lastRead, cutoff uint64) (int64, error)
	// Drop forgets the key entirely.
	Drop(ctx context.Context, key Key) error
	// Touched pops up to n keys modified since they were last popped.
	Touched(ctx context.Context, n int) ([]Key, error)
}
