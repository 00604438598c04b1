package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/weiawesome/wes-chat/internal/domain"
)

// ChannelRepository is the Channel Directory.
type ChannelRepository interface {
	// Create stores ch with its members. A second public channel in a
	// workspace fails with domain.ErrInvalidState.
	Create(ctx context.Context, ch *domain.Channel) error
	// FindDirect returns the direct channel of the unordered pair (a, b).
	FindDirect(ctx context.Context, workspaceID, a, b string) (*domain.Channel, error)
	GetByID(ctx context.Context, id string) (*domain.Channel, error)
	// ListForUser returns public channels of the workspace plus private and
	// direct channels userID belongs to, most recently active first.
	ListForUser(ctx context.Context, workspaceID, userID string) ([]*domain.Channel, error)
	Update(ctx context.Context, id string, name, description *string) (*domain.Channel, error)
	// AddMember is idempotent; added reports whether a row was inserted.
	AddMember(ctx context.Context, channelID, userID string) (added bool, err error)
	RemoveMember(ctx context.Context, channelID, userID string) (removed bool, err error)
	// Delete purges the channel's messages, receipts and read states, then
	// the channel itself.
	Delete(ctx context.Context, id string) error
}

// MessageRepository is the Message Store.
type MessageRepository interface {
	// Create inserts msg and stamps the channel's last message, failing with
	// domain.ErrNotFound when the channel no longer exists.
	Create(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uint64) (*domain.Message, error)
	// ListBefore returns up to limit messages with id < before (0 = newest),
	// oldest first, and whether older messages remain.
	ListBefore(ctx context.Context, channelID string, before uint64, limit int) ([]*domain.Message, bool, error)
	// UpdateBody edits a live message. Deleted messages fail with
	// domain.ErrInvalidState.
	UpdateBody(ctx context.Context, id uint64, body string) (*domain.Message, error)
	// SoftDelete clears the body and attachments. changed is false when the
	// message was already deleted.
	SoftDelete(ctx context.Context, id uint64) (msg *domain.Message, changed bool, err error)
	// AddReads records userID in readBy for ids of channelID not sent by
	// userID. It returns the ids that were newly recorded and the newest of
	// ids that belongs to channelID (0 when none does).
	AddReads(ctx context.Context, channelID, userID string, ids []uint64, at time.Time) (added []uint64, newest uint64, err error)
	// UnreadIDs lists live messages of channelID not sent by userID with
	// after < id <= upTo (upTo 0 = no bound), ascending.
	UnreadIDs(ctx context.Context, channelID, userID string, after, upTo uint64) ([]uint64, error)
	LatestID(ctx context.Context, channelID string) (uint64, error)
}

// ReadStateRepository stores the forward-only per-user read watermark.
type ReadStateRepository interface {
	Get(ctx context.Context, userID, channelID string) (uint64, error)
	Advance(ctx context.Context, userID, channelID string, messageID uint64) error
}

// WorkspaceDirectory answers workspace membership questions. Workspaces are
// managed elsewhere; this service only reads them.
type WorkspaceDirectory interface {
	// Role returns domain.RoleNone for non-members.
	Role(ctx context.Context, workspaceID, userID string) (domain.WorkspaceRole, error)
	Members(ctx context.Context, workspaceID string) ([]string, error)
}

// Models lists every table owned or read by the repositories.
func Models() []any {
	return []any{
		&domain.ChannelModel{},
		&domain.ChannelMemberModel{},
		&domain.MessageModel{},
		&domain.MessageReadModel{},
		&domain.ChannelReadStateModel{},
		&domain.WorkspaceMemberModel{},
	}
}

// translate maps driver errors onto the domain taxonomy.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", what, domain.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", what, domain.ErrInvalidState)
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled),
		errors.Is(err, driver.ErrBadConn):
		return fmt.Errorf("%s: %w: %v", what, domain.ErrTransientFailure, err)
	default:
		return fmt.Errorf("%s: %w", what, err)
	}
}
