package unread

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/weiawesome/wes-chat/pkg/log"
)

// MessageSource is the slice of the message store reconciliation needs.
type MessageSource interface {
	UnreadIDs(ctx context.Context, channelID, userID string, after, upTo uint64) ([]uint64, error)
	LatestID(ctx context.Context, channelID string) (uint64, error)
}

// ReadStateSource returns the durable read watermark.
type ReadStateSource interface {
	Get(ctx context.Context, userID, channelID string) (uint64, error)
}

// Counter is the unread projection: a cached Store that can always be rebuilt
// from the message store and the durable read watermark.
type Counter struct {
	store    Store
	messages MessageSource
	reads    ReadStateSource
	group    singleflight.Group
}

func NewCounter(store Store, messages MessageSource, reads ReadStateSource) *Counter {
	return &Counter{store: store, messages: messages, reads: reads}
}

// Increment records msgID as unread for userID and returns the new count.
func (c *Counter) Increment(ctx context.Context, userID, channelID string, msgID uint64) (int64, error) {
	if err := c.store.Add(ctx, Key{UserID: userID, ChannelID: channelID}, msgID); err != nil {
		return 0, err
	}
	return c.Count(ctx, userID, channelID)
}

// MarkRead clears messages up to and including upTo. Messages above upTo that
// arrived concurrently stay unread.
func (c *Counter) MarkRead(ctx context.Context, userID, channelID string, upTo uint64) (int64, error) {
	if err := c.store.MarkRead(ctx, Key{UserID: userID, ChannelID: channelID}, upTo); err != nil {
		return 0, err
	}
	return c.Count(ctx, userID, channelID)
}

// Remove forgets a soft-deleted message for userID.
func (c *Counter) Remove(ctx context.Context, userID, channelID string, msgID uint64) (int64, error) {
	if err := c.store.Remove(ctx, Key{UserID: userID, ChannelID: channelID}, msgID); err != nil {
		return 0, err
	}
	return c.Count(ctx, userID, channelID)
}

// Count returns the unread count, reconciling first when the cache is cold.
func (c *Counter) Count(ctx context.Context, userID, channelID string) (int64, error) {
	k := Key{UserID: userID, ChannelID: channelID}
	n, known, err := c.store.Count(ctx, k)
	if err != nil {
		return 0, err
	}
	if known {
		return n, nil
	}
	return c.Reconcile(ctx, userID, channelID)
}

// Counts returns counts for several channels of one user. A channel whose
// count cannot be computed is logged and omitted.
func (c *Counter) Counts(ctx context.Context, userID string, channelIDs []string) map[string]int64 {
	out := make(map[string]int64, len(channelIDs))
	for _, id := range channelIDs {
		n, err := c.Count(ctx, userID, id)
		if err != nil {
			l := log.Ctx(ctx)
			l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldChannelID, id).Msg("unread count unavailable")
			continue
		}
		out[id] = n
	}
	return out
}

// Reconcile recomputes the counter from the message store. Concurrent calls
// for the same key share one computation.
func (c *Counter) Reconcile(ctx context.Context, userID, channelID string) (int64, error) {
	k := Key{UserID: userID, ChannelID: channelID}
	v, err, _ := c.group.Do(k.String(), func() (any, error) {
		lastRead, err := c.reads.Get(ctx, userID, channelID)
		if err != nil {
			return int64(0), err
		}
		cutoff, err := c.messages.LatestID(ctx, channelID)
		if err != nil {
			return int64(0), err
		}
		ids, err := c.messages.UnreadIDs(ctx, channelID, userID, lastRead, cutoff)
		if err != nil {
			return int64(0), err
		}
		return c.store.Reconcile(ctx, k, ids, lastRead, cutoff)
	})
	if err != nil {
		return 0, fmt.Errorf("reconcile %s: %w", k, err)
	}
	return v.(int64), nil
}

// Drop forgets the counter, for example after the user left the channel.
func (c *Counter) Drop(ctx context.Context, userID, channelID string) error {
	return c.store.Drop(ctx, Key{UserID: userID, ChannelID: channelID})
}
