package broadcast

import (
	"context"

	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/metrics"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// UnreadCounter is the part of the unread projection fan-out updates.
type UnreadCounter interface {
	Increment(ctx context.Context, userID, channelID string, msgID uint64) (int64, error)
	MarkRead(ctx context.Context, userID, channelID string, upTo uint64) (int64, error)
	Remove(ctx context.Context, userID, channelID string, msgID uint64) (int64, error)
}

// ReadStates advances the durable read watermark.
type ReadStates interface {
	Advance(ctx context.Context, userID, channelID string, messageID uint64) error
}

// WorkspaceMembers lists everyone who can see a public channel.
type WorkspaceMembers interface {
	Members(ctx context.Context, workspaceID string) ([]string, error)
}

// ViewTracker answers whether a user declared a channel as active on any of
// their connections.
type ViewTracker interface {
	IsViewing(userID, channelID string) bool
}

// Result summarizes one fan-out.
type Result struct {
	Pushed  int
	Unread  []string
	Viewing []string
	Failed  []string
}

// Broadcaster pushes stored messages to channel rooms and keeps every
// recipient's unread counter in step.
type Broadcaster struct {
	fanout     *Fanout
	viewers    ViewTracker
	counter    UnreadCounter
	reads      ReadStates
	workspaces WorkspaceMembers
}

func NewBroadcaster(fanout *Fanout, viewers ViewTracker, counter UnreadCounter, reads ReadStates, workspaces WorkspaceMembers) *Broadcaster {
	return &Broadcaster{
		fanout:     fanout,
		viewers:    viewers,
		counter:    counter,
		reads:      reads,
		workspaces: workspaces,
	}
}

// Recipients resolves who should account for a message in ch: every
// workspace member for a public channel, the member set otherwise.
func (b *Broadcaster) Recipients(ctx context.Context, ch *domain.Channel) ([]string, error) {
	var users []string
	if ch.Kind == domain.ChannelPublic {
		members, err := b.workspaces.Members(ctx, ch.WorkspaceID)
		if err != nil {
			return nil, err
		}
		users = members
	} else {
		users = ch.Members
	}

	seen := make(map[string]struct{}, len(users))
	out := make([]string, 0, len(users))
	for _, u := range users {
		if _, dup := seen[u]; dup || u == "" {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out, nil
}

// MessageCreated pushes msg to the channel room, then counts it as unread
// for every recipient other than the sender and active viewers. Active
// viewers have their read position moved to msg instead. A failure for one
// recipient is logged and does not affect the others.
func (b *Broadcaster) MessageCreated(ctx context.Context, ch *domain.Channel, msg *domain.Message) Result {
	l := log.Ctx(ctx)
	res := Result{
		Pushed: b.fanout.ToRoom(ctx, domain.ChannelRoom(ch.ID), domain.NewServerFrame(domain.EvMessageNew, msg), ""),
	}

	users, err := b.Recipients(ctx, ch)
	if err != nil {
		metrics.UnreadFailures.WithLabelValues("recipients").Inc()
		l.Error().Err(err).Str(log.FieldChannelID, ch.ID).Uint64(log.FieldMessageID, msg.ID).Msg("failed to resolve recipients")
		return res
	}

	for _, userID := range users {
		if userID == msg.SenderID {
			continue
		}

		if b.viewers.IsViewing(userID, ch.ID) {
			if _, err := b.counter.MarkRead(ctx, userID, ch.ID, msg.ID); err != nil {
				metrics.UnreadFailures.WithLabelValues("mark_read").Inc()
				l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldChannelID, ch.ID).Msg("failed to advance viewer counter")
			}
			if err := b.reads.Advance(ctx, userID, ch.ID, msg.ID); err != nil {
				l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldChannelID, ch.ID).Msg("failed to advance viewer read state")
			}
			res.Viewing = append(res.Viewing, userID)
			continue
		}

		count, err := b.counter.Increment(ctx, userID, ch.ID, msg.ID)
		if err != nil {
			metrics.UnreadFailures.WithLabelValues("increment").Inc()
			l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldChannelID, ch.ID).Uint64(log.FieldMessageID, msg.ID).Msg("failed to increment unread counter")
			res.Failed = append(res.Failed, userID)
			continue
		}
		res.Unread = append(res.Unread, userID)
		b.pushUnread(ctx, userID, ch.ID, count)
	}

	l.Debug().
		Str(log.FieldChannelID, ch.ID).
		Uint64(log.FieldMessageID, msg.ID).
		Int("pushed", res.Pushed).
		Int("unread", len(res.Unread)).
		Int("viewing", len(res.Viewing)).
		Msg("message fanned out")
	return res
}

// MessageUpdated pushes an edited message to the channel room.
func (b *Broadcaster) MessageUpdated(ctx context.Context, ch *domain.Channel, msg *domain.Message) int {
	return b.fanout.ToRoom(ctx, domain.ChannelRoom(ch.ID), domain.NewServerFrame(domain.EvMessageUpdated, msg), "")
}

// MessageDeleted announces a soft delete and takes the message out of every
// recipient's unread set.
func (b *Broadcaster) MessageDeleted(ctx context.Context, ch *domain.Channel, msg *domain.Message) Result {
	l := log.Ctx(ctx)
	event := &domain.MessageDeletedEvent{ChannelID: ch.ID, MessageID: msg.ID}
	res := Result{
		Pushed: b.fanout.ToRoom(ctx, domain.ChannelRoom(ch.ID), domain.NewServerFrame(domain.EvMessageDeleted, event), ""),
	}

	users, err := b.Recipients(ctx, ch)
	if err != nil {
		metrics.UnreadFailures.WithLabelValues("recipients").Inc()
		l.Error().Err(err).Str(log.FieldChannelID, ch.ID).Msg("failed to resolve recipients")
		return res
	}

	for _, userID := range users {
		if userID == msg.SenderID {
			continue
		}
		count, err := b.counter.Remove(ctx, userID, ch.ID, msg.ID)
		if err != nil {
			metrics.UnreadFailures.WithLabelValues("remove").Inc()
			l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldChannelID, ch.ID).Msg("failed to drop deleted message from unread")
			res.Failed = append(res.Failed, userID)
			continue
		}
		res.Unread = append(res.Unread, userID)
		b.pushUnread(ctx, userID, ch.ID, count)
	}
	return res
}

// Seen broadcasts one receipt delta to the channel room.
func (b *Broadcaster) Seen(ctx context.Context, event *domain.SeenEvent) {
	b.fanout.ToRoom(ctx, domain.ChannelRoom(event.ChannelID), domain.NewServerFrame(domain.EvMessageSeen, event), "")
}

// UnreadChanged tells every connection of userID the channel's new count.
func (b *Broadcaster) UnreadChanged(ctx context.Context, userID, channelID string, count int64) {
	b.pushUnread(ctx, userID, channelID, count)
}

func (b *Broadcaster) pushUnread(ctx context.Context, userID, channelID string, count int64) {
	frame := domain.NewServerFrame(domain.EvUnreadUpdated, &domain.UnreadUpdated{ChannelID: channelID, Count: count})
	b.fanout.ToUser(ctx, userID, frame, "")
}
