package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/weiawesome/wes-chat/internal/access"
	"github.com/weiawesome/wes-chat/internal/audit"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/pkg/log"
)

// UnreadDropper forgets a user's counter for a channel they can no longer see.
type UnreadDropper interface {
	Drop(ctx context.Context, userID, channelID string) error
}

// RoomEvictor removes live connections from a channel room.
type RoomEvictor interface {
	EvictUser(ctx context.Context, userID, room string)
	CloseRoom(ctx context.Context, room string)
}

type channelService struct {
	authorizer
	counter UnreadDropper
	rooms   RoomEvictor
	timeout time.Duration
}

// NewChannelService creates the channel service. rooms may be nil when no
// gateway runs in the process.
func NewChannelService(channels repository.ChannelRepository, workspaces repository.WorkspaceDirectory, counter UnreadDropper, rooms RoomEvictor, timeout time.Duration) ChannelService {
	return &channelService{
		authorizer: authorizer{channels: channels, workspaces: workspaces},
		counter:    counter,
		rooms:      rooms,
		timeout:    timeout,
	}
}

func (s *channelService) Create(ctx context.Context, userID string, req *domain.CreateChannelRequest) (*domain.Channel, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown channel kind %q", domain.ErrBadRequest, req.Kind)
	}

	if req.Kind == domain.ChannelDirect {
		others := without(dedupe(req.Members), userID)
		if len(others) != domain.DirectMemberCount-1 {
			return nil, fmt.Errorf("%w: a direct channel has exactly %d members", domain.ErrInvalidState, domain.DirectMemberCount)
		}
		ch, _, err := s.openDirect(ctx, userID, req.WorkspaceID, others[0])
		return ch, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", domain.ErrBadRequest)
	}

	actor, err := s.actor(ctx, req.WorkspaceID, userID)
	if err != nil {
		return nil, err
	}
	if err := access.CanCreate(actor, req.Kind); err != nil {
		return nil, err
	}

	members := []string{userID}
	if req.Kind == domain.ChannelPrivate {
		for _, m := range without(dedupe(req.Members), userID) {
			if err := s.workspaceMember(ctx, m, req.WorkspaceID); err != nil {
				return nil, fmt.Errorf("%w: user %s is not in the workspace", domain.ErrBadRequest, m)
			}
			members = append(members, m)
		}
	}
	sort.Strings(members)

	ch := &domain.Channel{
		WorkspaceID: req.WorkspaceID,
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		Kind:        req.Kind,
		CreatorID:   userID,
		ProjectID:   req.ProjectID,
		Members:     members,
	}
	if err := s.channels.Create(ctx, ch); err != nil {
		return nil, err
	}

	audit.LogWithDetail(ctx, audit.ActionChannelCreate, userID, ch.ID, string(ch.Kind), "channel created")
	return ch, nil
}

func (s *channelService) OpenDirect(ctx context.Context, userID string, req *domain.DirectChannelRequest) (*domain.Channel, bool, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()
	return s.openDirect(ctx, userID, req.WorkspaceID, req.UserID)
}

func (s *channelService) openDirect(ctx context.Context, userID, workspaceID, otherID string) (*domain.Channel, bool, error) {
	if otherID == "" || otherID == userID {
		return nil, false, fmt.Errorf("%w: a direct channel needs another user", domain.ErrBadRequest)
	}

	actor, err := s.actor(ctx, workspaceID, userID)
	if err != nil {
		return nil, false, err
	}
	if err := access.CanCreate(actor, domain.ChannelDirect); err != nil {
		return nil, false, err
	}
	if err := s.workspaceMember(ctx, otherID, workspaceID); err != nil {
		return nil, false, fmt.Errorf("%w: user %s is not in the workspace", domain.ErrBadRequest, otherID)
	}

	existing, err := s.channels.FindDirect(ctx, workspaceID, userID, otherID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	members := []string{userID, otherID}
	sort.Strings(members)
	ch := &domain.Channel{
		WorkspaceID: workspaceID,
		Kind:        domain.ChannelDirect,
		CreatorID:   userID,
		Members:     members,
	}
	if err := s.channels.Create(ctx, ch); err != nil {
		if errors.Is(err, domain.ErrInvalidState) {
			// lost a race with the other user opening the same pair
			existing, findErr := s.channels.FindDirect(ctx, workspaceID, userID, otherID)
			if findErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	l := log.Ctx(ctx)
	l.Debug().Str(log.FieldChannelID, ch.ID).Str(log.FieldUserID, userID).Msg("direct channel opened")
	return ch, true, nil
}

func (s *channelService) List(ctx context.Context, userID, workspaceID string) ([]*domain.Channel, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	if err := s.workspaceMember(ctx, userID, workspaceID); err != nil {
		return nil, err
	}
	return s.channels.ListForUser(ctx, workspaceID, userID)
}

func (s *channelService) Get(ctx context.Context, userID, channelID string) (*domain.Channel, error) {
	return s.Authorize(ctx, userID, channelID, access.ActionRead)
}

func (s *channelService) Authorize(ctx context.Context, userID, channelID string, action access.Action) (*domain.Channel, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	ch, _, err := s.channel(ctx, userID, channelID, action, "")
	return ch, err
}

func (s *channelService) CheckWorkspace(ctx context.Context, userID, workspaceID string) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()
	return s.workspaceMember(ctx, userID, workspaceID)
}

func (s *channelService) Update(ctx context.Context, userID, channelID string, req *domain.UpdateChannelRequest) (*domain.Channel, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	if req.Name == nil && req.Description == nil {
		return nil, fmt.Errorf("%w: nothing to update", domain.ErrBadRequest)
	}
	var name, description *string
	if req.Name != nil {
		trimmed := strings.TrimSpace(*req.Name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: name cannot be empty", domain.ErrBadRequest)
		}
		name = &trimmed
	}
	if req.Description != nil {
		trimmed := strings.TrimSpace(*req.Description)
		description = &trimmed
	}

	if _, _, err := s.channel(ctx, userID, channelID, access.ActionUpdate, ""); err != nil {
		return nil, err
	}

	ch, err := s.channels.Update(ctx, channelID, name, description)
	if err != nil {
		return nil, err
	}

	audit.Log(ctx, audit.ActionChannelUpdate, userID, channelID, "channel updated")
	return ch, nil
}

// Delete purges the channel with its history, empties its room and forgets
// every affected unread counter.
func (s *channelService) Delete(ctx context.Context, userID, channelID string) error {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	ch, _, err := s.channel(ctx, userID, channelID, access.ActionDelete, "")
	if err != nil {
		return err
	}

	affected := ch.Members
	if ch.Kind == domain.ChannelPublic {
		if members, err := s.workspaces.Members(ctx, ch.WorkspaceID); err == nil {
			affected = members
		}
	}

	if err := s.channels.Delete(ctx, channelID); err != nil {
		return err
	}

	if s.rooms != nil {
		s.rooms.CloseRoom(ctx, domain.ChannelRoom(channelID))
	}
	for _, m := range affected {
		s.dropCounter(ctx, m, channelID)
	}

	audit.LogWithDetail(ctx, audit.ActionChannelDelete, userID, channelID, string(ch.Kind), "channel deleted")
	return nil
}

func (s *channelService) AddMember(ctx context.Context, userID, channelID, targetID string) (*domain.Channel, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	ch, _, err := s.channel(ctx, userID, channelID, access.ActionAddMember, targetID)
	if err != nil {
		return nil, err
	}
	if err := s.workspaceMember(ctx, targetID, ch.WorkspaceID); err != nil {
		return nil, fmt.Errorf("%w: user %s is not in the workspace", domain.ErrBadRequest, targetID)
	}

	added, err := s.channels.AddMember(ctx, channelID, targetID)
	if err != nil {
		return nil, err
	}
	if added {
		audit.LogWithDetail(ctx, audit.ActionMemberAdd, userID, channelID, targetID, "member added")
	}
	return s.channels.GetByID(ctx, channelID)
}

// RemoveMember drops targetID from the channel. For private and direct
// channels the target also loses its room and unread counter.
func (s *channelService) RemoveMember(ctx context.Context, userID, channelID, targetID string) (*domain.Channel, error) {
	ctx, cancel := bound(ctx, s.timeout)
	defer cancel()

	ch, _, err := s.channel(ctx, userID, channelID, access.ActionRemoveMember, targetID)
	if err != nil {
		return nil, err
	}

	removed, err := s.channels.RemoveMember(ctx, channelID, targetID)
	if err != nil {
		return nil, err
	}
	if removed {
		if ch.Kind != domain.ChannelPublic {
			if s.rooms != nil {
				s.rooms.EvictUser(ctx, targetID, domain.ChannelRoom(channelID))
			}
			s.dropCounter(ctx, targetID, channelID)
		}
		audit.LogWithDetail(ctx, audit.ActionMemberRemove, userID, channelID, targetID, "member removed")
	}
	return s.channels.GetByID(ctx, channelID)
}

func (s *channelService) dropCounter(ctx context.Context, userID, channelID string) {
	if s.counter == nil {
		return
	}
	if err := s.counter.Drop(ctx, userID, channelID); err != nil {
		l := log.Ctx(ctx)
		l.Warn().Err(err).Str(log.FieldUserID, userID).Str(log.FieldChannelID, channelID).Msg("failed to drop unread counter")
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func without(ids []string, drop string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
