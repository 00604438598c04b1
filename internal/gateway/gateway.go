package gateway

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-chat/internal/audit"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/metrics"
	"github.com/weiawesome/wes-chat/internal/room"
	"github.com/weiawesome/wes-chat/internal/service"
	"github.com/weiawesome/wes-chat/pkg/jwt"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// CloseAuthFailed is the websocket close code sent after a rejected credential.
const CloseAuthFailed = 4401

// TokenValidator verifies an access token.
type TokenValidator interface {
	ValidateToken(token string) (*jwt.Claims, error)
}

// Gateway binds websocket connections to identities and routes their events
// to the services. One Dispatcher is attached per connection.
type Gateway struct {
	hub       *hub.Hub
	rooms     *room.Coordinator
	channels  service.ChannelService
	messages  service.MessageService
	validator TokenValidator
	timeout   time.Duration
}

func New(h *hub.Hub, rooms *room.Coordinator, channels service.ChannelService, messages service.MessageService, validator TokenValidator, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = service.DefaultTimeout
	}
	return &Gateway{
		hub:       h,
		rooms:     rooms,
		channels:  channels,
		messages:  messages,
		validator: validator,
		timeout:   timeout,
	}
}

// Attach registers client and returns its dispatcher.
func (g *Gateway) Attach(client *hub.Client) *Dispatcher {
	g.hub.Register(client)
	d := &Dispatcher{gateway: g, client: client}
	d.handlers = map[string]handlerFunc{
		domain.EvWorkspaceJoin:  d.workspaceJoin,
		domain.EvWorkspaceLeave: d.workspaceLeave,
		domain.EvChannelJoin:    d.channelJoin,
		domain.EvChannelLeave:   d.channelLeave,
		domain.EvChannelView:    d.channelView,
		domain.EvMessageSend:    d.messageSend,
		domain.EvMessageEdit:    d.messageEdit,
		domain.EvMessageDelete:  d.messageDelete,
		domain.EvMessageRead:    d.messageRead,
		domain.EvTypingStart:    d.typingStart,
		domain.EvTypingStop:     d.typingStop,
	}
	return d
}

// Authenticate verifies token and binds the identity to client. On failure
// the client gets an error frame and is closed with CloseAuthFailed; nothing
// else is dispatched for it.
func (g *Gateway) Authenticate(ctx context.Context, client *hub.Client, token string) bool {
	if !client.Session.BeginAuth() {
		return false
	}

	claims, err := g.validator.ValidateToken(token)
	if err != nil {
		g.Reject(ctx, client, err.Error())
		return false
	}
	if !client.Session.Authenticate(claims.UserID, claims.Username) {
		return false
	}
	g.hub.Bind(client)

	l := log.Ctx(ctx)
	l.Info().Str(log.FieldConnID, client.ID).Str(log.FieldUserID, claims.UserID).Msg("connection authenticated")

	if err := client.SendJSON(&domain.AuthResult{
		Type:     domain.EvAuthResult,
		Success:  true,
		ConnID:   client.ID,
		UserID:   claims.UserID,
		Username: claims.Username,
	}); err != nil {
		l.Error().Err(err).Str(log.FieldConnID, client.ID).Msg("failed to encode auth result")
	}
	return true
}

// Reject fails the handshake. The session must already be authenticating.
func (g *Gateway) Reject(ctx context.Context, client *hub.Client, reason string) {
	metrics.AuthFailures.Inc()
	audit.Log(ctx, audit.ActionAuthFailed, "", client.ID, reason)

	if err := client.SendJSON(domain.NewErrorFrame(domain.ErrCodeUnauthorized, reason)); err != nil {
		l := log.Ctx(ctx)
		l.Error().Err(err).Str(log.FieldConnID, client.ID).Msg("failed to encode auth error")
	}
	client.Session.Close()
	client.CloseWithCode(CloseAuthFailed, "authentication failed")
}

// ExpireAuth rejects client if it is still waiting for a credential.
func (g *Gateway) ExpireAuth(ctx context.Context, client *hub.Client) {
	if client.Session.BeginAuth() {
		g.Reject(ctx, client, "authentication timed out")
	}
}

// Disconnect runs the implicit leave for a connection whose socket is gone.
func (g *Gateway) Disconnect(ctx context.Context, client *hub.Client) {
	g.rooms.Disconnect(ctx, client)

	l := log.Ctx(ctx)
	l.Debug().
		Str(log.FieldConnID, client.ID).
		Str(log.FieldUserID, client.UserID()).
		Str("username", client.Session.Username()).
		Int64("dropped", client.Dropped()).
		Dur("duration", time.Since(client.Session.CreatedAt)).
		Msg("connection closed")
}

// Shutdown closes every open connection as going away.
func (g *Gateway) Shutdown(ctx context.Context) int {
	clients := g.hub.Clients()
	for _, c := range clients {
		c.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
	}

	l := log.Ctx(ctx)
	l.Info().Int("connections", len(clients)).Msg("closed websocket connections")
	return len(clients)
}
