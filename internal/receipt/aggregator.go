package receipt

import (
	"context"
	"time"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// MessageReads is the part of the message store receipts touch.
type MessageReads interface {
	AddReads(ctx context.Context, channelID, userID string, ids []uint64, at time.Time) ([]uint64, uint64, error)
	UnreadIDs(ctx context.Context, channelID, userID string, after, upTo uint64) ([]uint64, error)
	LatestID(ctx context.Context, channelID string) (uint64, error)
}

// ReadStates holds the durable per-user read watermark.
type ReadStates interface {
	Get(ctx context.Context, userID, channelID string) (uint64, error)
	Advance(ctx context.Context, userID, channelID string, messageID uint64) error
}

// Counter is the unread projection.
type Counter interface {
	MarkRead(ctx context.Context, userID, channelID string, upTo uint64) (int64, error)
	Count(ctx context.Context, userID, channelID string) (int64, error)
}

// Notifier delivers receipt deltas and unread updates.
type Notifier interface {
	Seen(ctx context.Context, event *domain.SeenEvent)
	UnreadChanged(ctx context.Context, userID, channelID string, count int64)
}

// Aggregator records who has seen which messages and keeps the reader's
// unread counter and read watermark in step.
type Aggregator struct {
	messages MessageReads
	reads    ReadStates
	counter  Counter
	notify   Notifier
	now      func() time.Time
}

func NewAggregator(messages MessageReads, reads ReadStates, counter Counter, notify Notifier) *Aggregator {
	return &Aggregator{
		messages: messages,
		reads:    reads,
		counter:  counter,
		notify:   notify,
		now:      time.Now,
	}
}

// MarkRead records actor in readBy of ids. Repeating a call, or passing ids
// that are already covered, changes nothing and broadcasts nothing. The
// unread counter is cleared only up to the newest given id that belongs to
// ch, so a message that arrived meanwhile stays unread and ids from other
// channels move nothing.
func (a *Aggregator) MarkRead(ctx context.Context, actor string, ch *domain.Channel, ids []uint64) (*domain.ReadResult, error) {
	if len(ids) == 0 {
		count, err := a.counter.Count(ctx, actor, ch.ID)
		if err != nil {
			return nil, err
		}
		return &domain.ReadResult{ChannelID: ch.ID, MessageIDs: []uint64{}, Unread: count}, nil
	}
	return a.record(ctx, actor, ch, ids, 0)
}

// MarkAllRead marks every message currently unread for actor, up to the
// newest message in the channel at the time of the call.
func (a *Aggregator) MarkAllRead(ctx context.Context, actor string, ch *domain.Channel) (*domain.ReadResult, error) {
	latest, err := a.messages.LatestID(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	lastRead, err := a.reads.Get(ctx, actor, ch.ID)
	if err != nil {
		return nil, err
	}
	ids, err := a.messages.UnreadIDs(ctx, ch.ID, actor, lastRead, latest)
	if err != nil {
		return nil, err
	}
	return a.record(ctx, actor, ch, ids, latest)
}

// record writes readBy for ids. upTo 0 takes the watermark from the newest
// of ids found in ch.
func (a *Aggregator) record(ctx context.Context, actor string, ch *domain.Channel, ids []uint64, upTo uint64) (*domain.ReadResult, error) {
	l := log.Ctx(ctx)
	at := a.now().UTC()

	added, newest, err := a.messages.AddReads(ctx, ch.ID, actor, ids, at)
	if err != nil {
		return nil, err
	}
	if upTo == 0 {
		upTo = newest
	}
	if added == nil {
		added = []uint64{}
	}

	if len(added) > 0 {
		a.notify.Seen(ctx, &domain.SeenEvent{
			ChannelID:  ch.ID,
			UserID:     actor,
			MessageIDs: added,
			ReadAt:     at,
		})
	}

	if upTo > 0 {
		if err := a.reads.Advance(ctx, actor, ch.ID, upTo); err != nil {
			return nil, err
		}
	}

	var count int64
	if upTo > 0 {
		count, err = a.counter.MarkRead(ctx, actor, ch.ID, upTo)
	} else {
		count, err = a.counter.Count(ctx, actor, ch.ID)
	}
	if err != nil {
		// readBy and the watermark are durable; the reconciler repairs the counter
		l.Warn().Err(err).Str(log.FieldUserID, actor).Str(log.FieldChannelID, ch.ID).Msg("failed to clear unread counter")
		return &domain.ReadResult{ChannelID: ch.ID, MessageIDs: added}, nil
	}
	a.notify.UnreadChanged(ctx, actor, ch.ID, count)

	l.Debug().Str(log.FieldUserID, actor).Str(log.FieldChannelID, ch.ID).Int("added", len(added)).Uint64("up_to", upTo).Msg("messages marked read")
	return &domain.ReadResult{ChannelID: ch.ID, MessageIDs: added, Unread: count}, nil
}
