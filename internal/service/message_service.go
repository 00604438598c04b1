package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/weiawesome/wes-chat/internal/access"
	"github.com/weiawesome/wes-chat/internal/audit"
	"github.com/weiawesome/wes-chat/internal/broadcast"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/metrics"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/storage"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 100
	MaxBodyLength       = 4000
	MaxReadBatch        = 500
)

// Broadcaster fans stored message changes out to rooms and counters.
type Broadcaster interface {
	MessageCreated(ctx context.Context, ch *domain.Channel, msg *domain.Message) broadcast.Result
	MessageUpdated(ctx context.Context, ch *domain.Channel, msg *domain.Message) int
	MessageDeleted(ctx context.Context, ch *domain.Channel, msg *domain.Message) broadcast.Result
}

// Receipts records read receipts.
type Receipts interface {
	MarkRead(ctx context.Context, actor string, ch *domain.Channel, ids []uint64) (*domain.ReadResult, error)
	MarkAllRead(ctx context.Context, actor string, ch *domain.Channel) (*domain.ReadResult, error)
}

// UnreadReader reads the unread projection.
type UnreadReader interface {
	Count(ctx context.Context, userID, channelID string) (int64, error)
	Counts(ctx context.Context, userID string, channelIDs []string) map[string]int64
}

type messageService struct {
	authorizer
	messages    repository.MessageRepository
	broadcaster Broadcaster
	receipts    Receipts
	unread      UnreadReader
	attachments storage.Lookup
	timeout     time.Duration
}

// MessageDeps groups the collaborators of the message service.
type MessageDeps struct {
	Channels    repository.ChannelRepository
	Messages    repository.MessageRepository
	Workspaces  repository.WorkspaceDirectory
	Broadcaster Broadcaster
	Receipts    Receipts
	Unread      UnreadReader
	// Attachments verifies attachment ids on send; nil skips the check.
	Attachments storage.Lookup
	Timeout     time.Duration
}

func NewMessageService(deps MessageDeps) MessageService {
	return &messageService{
		authorizer:  authorizer{channels: deps.Channels, workspaces: deps.Workspaces},
		messages:    deps.Messages,
		broadcaster: deps.Broadcaster,
		receipts:    deps.Receipts,
		unread:      deps.Unread,
		attachments: deps.Attachments,
		timeout:     deps.Timeout,
	}
}

// Send validates and stores a message, then fans it out. Fan-out runs on its
// own deadline so a caller that goes away after the write does not skip the
// unread counters.
func (s *messageService) Send(ctx context.Context, userID string, req *domain.SendMessageRequest) (*domain.Message, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	body := strings.TrimSpace(req.Body)
	if body == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("%w: message is empty", domain.ErrBadRequest)
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrBadRequest, MaxBodyLength)
	}
	msgType := req.Type
	if msgType == "" {
		msgType = domain.MessageText
		if len(req.Attachments) > 0 && body == "" {
			msgType = domain.MessageFile
		}
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("%w: unsupported message type %q", domain.ErrBadRequest, msgType)
	}
	if msgType == domain.MessageFile && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("%w: file messages need an attachment", domain.ErrBadRequest)
	}

	ch, _, err := s.channel(ctx, userID, req.ChannelID, access.ActionPost, "")
	if err != nil {
		return nil, err
	}

	if req.ReplyToID != nil {
		parent, err := s.messages.GetByID(ctx, *req.ReplyToID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("%w: reply target %d does not exist", domain.ErrBadRequest, *req.ReplyToID)
			}
			return nil, err
		}
		if parent.ChannelID != ch.ID {
			return nil, fmt.Errorf("%w: reply target %d is in another channel", domain.ErrBadRequest, *req.ReplyToID)
		}
	}

	attachments := dedupe(req.Attachments)
	if err := s.verifyAttachments(ctx, attachments); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		ChannelID:   ch.ID,
		SenderID:    userID,
		Body:        body,
		Type:        msgType,
		Attachments: attachments,
		ReplyToID:   req.ReplyToID,
		Mentions:    dedupe(req.Mentions),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}
	metrics.MessagesSent.Inc()

	fanCtx, fanCancel := bound(context.WithoutCancel(ctx), s.timeout)
	defer fanCancel()
	s.broadcaster.MessageCreated(fanCtx, ch, msg)

	return msg, nil
}

func (s *messageService) verifyAttachments(ctx context.Context, ids []string) error {
	if s.attachments == nil {
		return nil
	}
	for _, id := range ids {
		ok, err := s.attachments.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: attachment lookup: %v", domain.ErrTransientFailure, err)
		}
		if !ok {
			return fmt.Errorf("%w: attachment %s does not exist", domain.ErrBadRequest, id)
		}
	}
	return nil
}

func (s *messageService) Edit(ctx context.Context, userID string, messageID uint64, body string) (*domain.Message, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	body = strings.TrimSpace(body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is required", domain.ErrBadRequest)
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return nil, fmt.Errorf("%w: message exceeds %d characters", domain.ErrBadRequest, MaxBodyLength)
	}

	msg, ch, actor, err := s.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if err := access.CanEditMessage(actor, ch, msg); err != nil {
		return nil, err
	}

	updated, err := s.messages.UpdateBody(ctx, messageID, body)
	if err != nil {
		return nil, err
	}
	s.broadcaster.MessageUpdated(ctx, ch, updated)
	return updated, nil
}

// Delete soft-deletes a message. Deleting it again returns the stored
// message and broadcasts nothing.
func (s *messageService) Delete(ctx context.Context, userID string, messageID uint64) (*domain.Message, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	msg, ch, actor, err := s.load(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if err := access.CanDeleteMessage(actor, ch, msg); err != nil {
		return nil, err
	}

	deleted, changed, err := s.messages.SoftDelete(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if changed {
		fanCtx, fanCancel := bound(context.WithoutCancel(ctx), s.timeout)
		defer fanCancel()
		s.broadcaster.MessageDeleted(fanCtx, ch, deleted)
		audit.LogWithDetail(ctx, audit.ActionMessageDelete, userID, ch.ID, fmt.Sprintf("%d", messageID), "message deleted")
	}
	return deleted, nil
}

func (s *messageService) load(ctx context.Context, userID string, messageID uint64) (*domain.Message, *domain.Channel, access.Actor, error) {
	if messageID == 0 {
		return nil, nil, access.Actor{}, fmt.Errorf("%w: message id is required", domain.ErrBadRequest)
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, nil, access.Actor{}, err
	}
	ch, err := s.channels.GetByID(ctx, msg.ChannelID)
	if err != nil {
		return nil, nil, access.Actor{}, err
	}
	actor, err := s.actor(ctx, ch.WorkspaceID, userID)
	if err != nil {
		return nil, nil, access.Actor{}, err
	}
	return msg, ch, actor, nil
}

// History returns one page older than before (0 = newest), oldest first.
func (s *messageService) History(ctx context.Context, userID, channelID string, before uint64, limit int) (*domain.HistoryPage, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	if _, _, err := s.channel(ctx, userID, channelID, access.ActionRead, ""); err != nil {
		return nil, err
	}

	msgs, hasMore, err := s.messages.ListBefore(ctx, channelID, before, limit)
	if err != nil {
		return nil, err
	}

	page := &domain.HistoryPage{Messages: msgs, HasMore: hasMore}
	if page.Messages == nil {
		page.Messages = []*domain.Message{}
	}
	if hasMore && len(msgs) > 0 {
		next := msgs[0].ID
		page.NextBefore = &next
	}
	return page, nil
}

func (s *messageService) MarkRead(ctx context.Context, userID, channelID string, ids []uint64) (*domain.ReadResult, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	if len(ids) > MaxReadBatch {
		return nil, fmt.Errorf("%w: at most %d ids per call", domain.ErrBadRequest, MaxReadBatch)
	}
	ch, _, err := s.channel(ctx, userID, channelID, access.ActionRead, "")
	if err != nil {
		return nil, err
	}
	return s.receipts.MarkRead(ctx, userID, ch, ids)
}

func (s *messageService) MarkAllRead(ctx context.Context, userID, channelID string) (*domain.ReadResult, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	ch, _, err := s.channel(ctx, userID, channelID, access.ActionRead, "")
	if err != nil {
		return nil, err
	}
	return s.receipts.MarkAllRead(ctx, userID, ch)
}

func (s *messageService) UnreadCount(ctx context.Context, userID, channelID string) (int64, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	if _, _, err := s.channel(ctx, userID, channelID, access.ActionRead, ""); err != nil {
		return 0, err
	}
	return s.unread.Count(ctx, userID, channelID)
}

// UnreadCounts returns the count of every channel visible to userID in the
// workspace. Channels whose count cannot be computed right now are omitted.
func (s *messageService) UnreadCounts(ctx context.Context, userID, workspaceID string) (map[string]int64, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	if err := s.workspaceMember(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	channels, err := s.channels.ListForUser(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(channels))
	for i, ch := range channels {
		ids[i] = ch.ID
	}
	counts := s.unread.Counts(ctx, userID, ids)

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldUserID, userID).Str(log.FieldWorkspaceID, workspaceID).Int("channels", len(counts)).Msg("unread counts computed")
	return counts, nil
}
