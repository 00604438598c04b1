package domain

import "strings"

// RoomKind distinguishes the two fan-out groups a connection can join.
type RoomKind string

const (
	RoomWorkspace RoomKind = "workspace"
	RoomChannel   RoomKind = "channel"
)

// WorkspaceRoom names the presence room of a workspace.
func WorkspaceRoom(workspaceID string) string {
	return string(RoomWorkspace) + ":" + workspaceID
}

// ChannelRoom names the fan-out room of a channel.
func ChannelRoom(channelID string) string {
	return string(RoomChannel) + ":" + channelID
}

// ParseRoom splits a room name into kind and id.
func ParseRoom(room string) (RoomKind, string, bool) {
	kind, id, ok := strings.Cut(room, ":")
	if !ok || id == "" {
		return "", "", false
	}
	switch RoomKind(kind) {
	case RoomWorkspace, RoomChannel:
		return RoomKind(kind), id, true
	}
	return "", "", false
}
