package domain

import (
	"encoding/json"
	"time"
)

// Client -> server event types.
const (
	EvAuth           = "auth"
	EvPing           = "ping"
	EvWorkspaceJoin  = "workspace:join"
	EvWorkspaceLeave = "workspace:leave"
	EvChannelJoin    = "channel:join"
	EvChannelLeave   = "channel:leave"
	EvChannelView    = "channel:view"
	EvMessageSend    = "message:send"
	EvTypingStart    = "typing:start"
	EvTypingStop     = "typing:stop"
	EvMessageEdit    = "message:edit"
	EvMessageDelete  = "message:delete"
	EvMessageRead    = "message:read"
)

// Server -> client event types.
const (
	EvAuthResult       = "auth:result"
	EvPong             = "pong"
	EvAck              = "ack"
	EvError            = "error"
	EvMessageNew       = "message:new"
	EvMessageUpdated   = "message:updated"
	EvMessageDeleted   = "message:deleted"
	EvUserTyping       = "user:typing"
	EvUserStopTyping   = "user:stopTyping"
	EvMessageSeen      = "message:seen"
	EvUserJoined       = "user:joined"
	EvUserLeft         = "user:left"
	EvPresenceSnapshot = "presence:snapshot"
	EvUnreadUpdated    = "unread:updated"
)

// ClientFrame is every inbound frame.
type ClientFrame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ServerFrame is every unsolicited outbound push.
type ServerFrame struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewServerFrame stamps a push with the current time in unix ms.
func NewServerFrame(eventType string, payload any) *ServerFrame {
	return &ServerFrame{
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	}
}

// ErrorBody describes a failed request.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ack answers one client frame.
type Ack struct {
	Type      string     `json:"type"`
	RequestID string     `json:"request_id,omitempty"`
	Event     string     `json:"event"`
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
}

func NewAck(requestID, event string, data any) *Ack {
	return &Ack{Type: EvAck, RequestID: requestID, Event: event, Success: true, Data: data}
}

func NewErrorAck(requestID, event, code, message string) *Ack {
	return &Ack{
		Type:      EvAck,
		RequestID: requestID,
		Event:     event,
		Error:     &ErrorBody{Code: code, Message: message},
	}
}

// ErrorFrame is a connection-level error, sent before a close.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewErrorFrame(code, message string) *ErrorFrame {
	return &ErrorFrame{Type: EvError, Code: code, Message: message}
}

// Client payloads.

type AuthPayload struct {
	Token string `json:"token"`
}

type WorkspacePayload struct {
	WorkspaceID string `json:"workspace_id"`
}

type ChannelPayload struct {
	ChannelID string `json:"channel_id"`
}

type EditMessagePayload struct {
	MessageID uint64 `json:"message_id"`
	Body      string `json:"body"`
}

type DeleteMessagePayload struct {
	MessageID uint64 `json:"message_id"`
}

type ReadPayload struct {
	ChannelID  string   `json:"channel_id"`
	MessageIDs []uint64 `json:"message_ids"`
}

// Server payloads.

type AuthResult struct {
	Type     string `json:"type"`
	Success  bool   `json:"success"`
	ConnID   string `json:"conn_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message,omitempty"`
}

type MessageDeletedEvent struct {
	ChannelID string `json:"channel_id"`
	MessageID uint64 `json:"message_id"`
}

type TypingEvent struct {
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
}

type SeenEvent struct {
	ChannelID  string    `json:"channel_id"`
	UserID     string    `json:"user_id"`
	MessageIDs []uint64  `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
}

type PresenceEvent struct {
	Room   string `json:"room"`
	UserID string `json:"user_id"`
}

// PresenceSnapshot is sent to a connection right after it joins a room.
// Typing is only filled for channel rooms.
type PresenceSnapshot struct {
	Room   string   `json:"room"`
	Users  []string `json:"users"`
	Typing []string `json:"typing,omitempty"`
}

type UnreadUpdated struct {
	ChannelID string `json:"channel_id"`
	Count     int64  `json:"count"`
}

// ReadResult is returned by mark-read.
type ReadResult struct {
	ChannelID  string   `json:"channel_id"`
	MessageIDs []uint64 `json:"message_ids"`
	Unread     int64    `json:"unread"`
}
