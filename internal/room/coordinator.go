package room

import (
	"context"

	"github.com/weiawesome/wes-chat/internal/broadcast"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/typing"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// Coordinator applies join/leave semantics for workspace and channel rooms on
// top of the hub's indices, and owns the typing indicators of channel rooms.
type Coordinator struct {
	hub    *hub.Hub
	fanout *broadcast.Fanout
	typing *typing.Coordinator
}

func NewCoordinator(h *hub.Hub, fanout *broadcast.Fanout, tc *typing.Coordinator) *Coordinator {
	return &Coordinator{hub: h, fanout: fanout, typing: tc}
}

// Join adds client to room and sends it the room's presence. Other members
// hear user:joined only for the user's first connection in the room.
func (c *Coordinator) Join(ctx context.Context, client *hub.Client, room string) *domain.PresenceSnapshot {
	userID := client.UserID()
	_, first := c.hub.Join(client, room)

	snapshot := &domain.PresenceSnapshot{Room: room, Users: c.hub.Presence(room)}
	if kind, channelID, ok := domain.ParseRoom(room); ok && kind == domain.RoomChannel {
		snapshot.Typing = c.typing.Typing(channelID)
	}
	if err := client.SendJSON(domain.NewServerFrame(domain.EvPresenceSnapshot, snapshot)); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldRoom, room).Msg("failed to encode presence snapshot")
	}

	if first {
		event := &domain.PresenceEvent{Room: room, UserID: userID}
		c.fanout.ToRoom(ctx, room, domain.NewServerFrame(domain.EvUserJoined, event), userID)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldConnID, client.ID).Str(log.FieldUserID, userID).Str(log.FieldRoom, room).Bool("first", first).Msg("joined room")
	return snapshot
}

// Leave removes client from room and reports whether it had joined.
func (c *Coordinator) Leave(ctx context.Context, client *hub.Client, room string) bool {
	removed, last := c.hub.Leave(client, room)
	if last {
		c.userLeft(ctx, room, client.UserID())
	}
	return removed
}

// Disconnect closes the session and treats it as leaving every joined room.
func (c *Coordinator) Disconnect(ctx context.Context, client *hub.Client) {
	client.Session.Close()
	userID := client.UserID()

	for _, room := range c.hub.Unregister(client) {
		c.userLeft(ctx, room, userID)
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldConnID, client.ID).Str(log.FieldUserID, userID).Msg("connection closed")
}

// EvictUser removes every connection of userID from room, for example after
// the user lost access to the channel.
func (c *Coordinator) EvictUser(ctx context.Context, userID, room string) {
	for _, client := range c.hub.ClientsOf(userID) {
		if c.hub.InRoom(client, room) {
			c.Leave(ctx, client, room)
		}
		if kind, channelID, ok := domain.ParseRoom(room); ok && kind == domain.RoomChannel && client.Session.ActiveChannel() == channelID {
			client.Session.SetActiveChannel("")
		}
	}
}

// CloseRoom empties room without presence events, used when its channel is
// deleted.
func (c *Coordinator) CloseRoom(ctx context.Context, room string) {
	clients := c.hub.RoomClients(room)
	for _, client := range clients {
		c.hub.Leave(client, room)
	}
	if kind, channelID, ok := domain.ParseRoom(room); ok && kind == domain.RoomChannel {
		for _, userID := range c.typing.Typing(channelID) {
			c.typing.Stop(channelID, userID)
		}
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldRoom, room).Int("connections", len(clients)).Msg("room closed")
}

// StartTyping marks userID as typing in channelID and tells the rest of the
// channel room.
func (c *Coordinator) StartTyping(ctx context.Context, userID, channelID string) {
	c.typing.Start(channelID, userID)
	event := &domain.TypingEvent{ChannelID: channelID, UserID: userID}
	c.fanout.ToRoom(ctx, domain.ChannelRoom(channelID), domain.NewServerFrame(domain.EvUserTyping, event), userID)
}

// StopTyping clears the indicator and tells the rest of the channel room.
func (c *Coordinator) StopTyping(ctx context.Context, userID, channelID string) {
	c.typing.Stop(channelID, userID)
	c.broadcastStopTyping(ctx, userID, channelID)
}

// Typing lists the users currently typing in channelID.
func (c *Coordinator) Typing(channelID string) []string {
	return c.typing.Typing(channelID)
}

func (c *Coordinator) userLeft(ctx context.Context, room, userID string) {
	event := &domain.PresenceEvent{Room: room, UserID: userID}
	c.fanout.ToRoom(ctx, room, domain.NewServerFrame(domain.EvUserLeft, event), userID)

	if kind, channelID, ok := domain.ParseRoom(room); ok && kind == domain.RoomChannel {
		if c.typing.Stop(channelID, userID) {
			c.broadcastStopTyping(ctx, userID, channelID)
		}
	}
}

func (c *Coordinator) broadcastStopTyping(ctx context.Context, userID, channelID string) {
	event := &domain.TypingEvent{ChannelID: channelID, UserID: userID}
	c.fanout.ToRoom(ctx, domain.ChannelRoom(channelID), domain.NewServerFrame(domain.EvUserStopTyping, event), userID)
}
