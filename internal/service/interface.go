package service

import (
	"context"

	"github.com/weiawesome/wes-chat/internal/access"
	"github.com/weiawesome/wes-chat/internal/domain"
)

// ChannelService is the authorized Channel Directory used by REST and the
// gateway.
type ChannelService interface {
	Create(ctx context.Context, userID string, req *domain.CreateChannelRequest) (*domain.Channel, error)
	// OpenDirect returns the direct channel between userID and req.UserID,
	// creating it on first use. created is false when it already existed.
	OpenDirect(ctx context.Context, userID string, req *domain.DirectChannelRequest) (ch *domain.Channel, created bool, err error)
	List(ctx context.Context, userID, workspaceID string) ([]*domain.Channel, error)
	Get(ctx context.Context, userID, channelID string) (*domain.Channel, error)
	Update(ctx context.Context, userID, channelID string, req *domain.UpdateChannelRequest) (*domain.Channel, error)
	Delete(ctx context.Context, userID, channelID string) error
	AddMember(ctx context.Context, userID, channelID, targetID string) (*domain.Channel, error)
	RemoveMember(ctx context.Context, userID, channelID, targetID string) (*domain.Channel, error)
	// Authorize loads the channel and checks action for userID.
	Authorize(ctx context.Context, userID, channelID string, action access.Action) (*domain.Channel, error)
	// CheckWorkspace fails with domain.ErrAccessDenied unless userID belongs
	// to the workspace.
	CheckWorkspace(ctx context.Context, userID, workspaceID string) error
}

// MessageService is the authorized Message Store plus read tracking.
type MessageService interface {
	Send(ctx context.Context, userID string, req *domain.SendMessageRequest) (*domain.Message, error)
	Edit(ctx context.Context, userID string, messageID uint64, body string) (*domain.Message, error)
	Delete(ctx context.Context, userID string, messageID uint64) (*domain.Message, error)
	History(ctx context.Context, userID, channelID string, before uint64, limit int) (*domain.HistoryPage, error)
	MarkRead(ctx context.Context, userID, channelID string, ids []uint64) (*domain.ReadResult, error)
	MarkAllRead(ctx context.Context, userID, channelID string) (*domain.ReadResult, error)
	UnreadCount(ctx context.Context, userID, channelID string) (int64, error)
	UnreadCounts(ctx context.Context, userID, workspaceID string) (map[string]int64, error)
}
