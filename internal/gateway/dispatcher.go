package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/weiawesome/wes-chat/internal/access"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/metrics"
	"github.com/weiawesome/wes-chat/pkg/log"
)

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, error)

var errRateLimited = errors.New("rate limited")

// Dispatcher routes the frames of one connection. It is created when the
// connection is attached and dropped with it.
type Dispatcher struct {
	gateway  *Gateway
	client   *hub.Client
	handlers map[string]handlerFunc
}

// Handle processes one inbound frame. ReadPump calls it sequentially.
func (d *Dispatcher) Handle(client *hub.Client, data []byte) {
	session := client.Session
	if session.State() == domain.StateClosed {
		return
	}

	var frame domain.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		d.ack(domain.NewErrorAck("", "", domain.ErrCodeBadRequest, "invalid frame"))
		return
	}

	logger := log.L().With().Str(log.FieldConnID, client.ID).Str(log.FieldUserID, client.UserID()).Str(log.FieldEvent, frame.Type).Logger()
	ctx := log.WithLogger(context.Background(), logger)

	switch frame.Type {
	case domain.EvAuth:
		d.auth(ctx, &frame)
		return
	case domain.EvPing:
		d.ack(domain.NewServerFrame(domain.EvPong, nil))
		return
	}

	if !session.IsAuthenticated() {
		d.fail(ctx, &frame, fmt.Errorf("%w: authenticate first", domain.ErrAuthenticationFailed))
		return
	}
	if !client.Allow() {
		d.fail(ctx, &frame, errRateLimited)
		return
	}

	handler, ok := d.handlers[frame.Type]
	if !ok {
		d.fail(ctx, &frame, fmt.Errorf("%w: unknown event %q", domain.ErrBadRequest, frame.Type))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.gateway.timeout)
	defer cancel()

	result, err := handler(ctx, frame.Payload)
	if err != nil {
		d.fail(ctx, &frame, err)
		return
	}
	metrics.Events.WithLabelValues(frame.Type, "ok").Inc()
	d.ack(domain.NewAck(frame.RequestID, frame.Type, result))
}

func (d *Dispatcher) auth(ctx context.Context, frame *domain.ClientFrame) {
	if d.client.Session.State() != domain.StateConnecting {
		d.fail(ctx, frame, fmt.Errorf("%w: connection is already authenticated", domain.ErrInvalidState))
		return
	}
	var p domain.AuthPayload
	if err := decode(frame.Payload, &p); err != nil || p.Token == "" {
		if d.client.Session.BeginAuth() {
			d.gateway.Reject(ctx, d.client, "token is required")
		}
		return
	}
	d.gateway.Authenticate(ctx, d.client, p.Token)
}

func (d *Dispatcher) fail(ctx context.Context, frame *domain.ClientFrame, err error) {
	code := domain.ErrorCode(err)
	message := err.Error()
	switch {
	case errors.Is(err, errRateLimited):
		code = domain.ErrCodeRateLimited
	case code == domain.ErrCodeInternalError:
		l := log.Ctx(ctx)
		l.Error().Err(err).Msg("event failed")
		message = "internal error"
	}
	metrics.Events.WithLabelValues(frame.Type, code).Inc()
	d.ack(domain.NewErrorAck(frame.RequestID, frame.Type, code, message))
}

func (d *Dispatcher) ack(v any) {
	if err := d.client.SendJSON(v); err != nil {
		l := log.L()
		l.Error().Err(err).Str(log.FieldConnID, d.client.ID).Msg("failed to encode ack")
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: payload is required", domain.ErrBadRequest)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: malformed payload: %v", domain.ErrBadRequest, err)
	}
	return nil
}

func (d *Dispatcher) userID() string {
	return d.client.UserID()
}

func (d *Dispatcher) workspaceJoin(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.WorkspacePayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if err := d.gateway.channels.CheckWorkspace(ctx, d.userID(), p.WorkspaceID); err != nil {
		return nil, err
	}
	return d.gateway.rooms.Join(ctx, d.client, domain.WorkspaceRoom(p.WorkspaceID)), nil
}

func (d *Dispatcher) workspaceLeave(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.WorkspacePayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.WorkspaceID == "" {
		return nil, fmt.Errorf("%w: workspace id is required", domain.ErrBadRequest)
	}
	room := domain.WorkspaceRoom(p.WorkspaceID)
	return map[string]any{"room": room, "left": d.gateway.rooms.Leave(ctx, d.client, room)}, nil
}

func (d *Dispatcher) channelJoin(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.ChannelPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if _, err := d.gateway.channels.Authorize(ctx, d.userID(), p.ChannelID, access.ActionRead); err != nil {
		return nil, err
	}
	return d.gateway.rooms.Join(ctx, d.client, domain.ChannelRoom(p.ChannelID)), nil
}

func (d *Dispatcher) channelLeave(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.ChannelPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.ChannelID == "" {
		return nil, fmt.Errorf("%w: channel id is required", domain.ErrBadRequest)
	}
	if d.client.Session.ActiveChannel() == p.ChannelID {
		d.client.Session.SetActiveChannel("")
	}
	room := domain.ChannelRoom(p.ChannelID)
	return map[string]any{"room": room, "left": d.gateway.rooms.Leave(ctx, d.client, room)}, nil
}

// channelView declares the channel the connection is looking at. New messages
// there count as read for this user. An empty channel id clears it.
func (d *Dispatcher) channelView(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.ChannelPayload
	if len(payload) > 0 {
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
	}
	if p.ChannelID == "" {
		d.client.Session.SetActiveChannel("")
		return map[string]any{"channel_id": ""}, nil
	}

	if _, err := d.gateway.channels.Authorize(ctx, d.userID(), p.ChannelID, access.ActionRead); err != nil {
		return nil, err
	}
	d.client.Session.SetActiveChannel(p.ChannelID)
	return d.gateway.messages.MarkAllRead(ctx, d.userID(), p.ChannelID)
}

func (d *Dispatcher) messageSend(ctx context.Context, payload json.RawMessage) (any, error) {
	var req domain.SendMessageRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	return d.gateway.messages.Send(ctx, d.userID(), &req)
}

func (d *Dispatcher) messageEdit(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.EditMessagePayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return d.gateway.messages.Edit(ctx, d.userID(), p.MessageID, p.Body)
}

func (d *Dispatcher) messageDelete(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.DeleteMessagePayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return d.gateway.messages.Delete(ctx, d.userID(), p.MessageID)
}

func (d *Dispatcher) messageRead(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.ReadPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	return d.gateway.messages.MarkRead(ctx, d.userID(), p.ChannelID, p.MessageIDs)
}

func (d *Dispatcher) typingStart(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.ChannelPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if _, err := d.gateway.channels.Authorize(ctx, d.userID(), p.ChannelID, access.ActionPost); err != nil {
		return nil, err
	}
	d.gateway.rooms.StartTyping(ctx, d.userID(), p.ChannelID)
	return nil, nil
}

func (d *Dispatcher) typingStop(ctx context.Context, payload json.RawMessage) (any, error) {
	var p domain.ChannelPayload
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if p.ChannelID == "" {
		return nil, fmt.Errorf("%w: channel id is required", domain.ErrBadRequest)
	}
	d.gateway.rooms.StopTyping(ctx, d.userID(), p.ChannelID)
	return nil, nil
}
