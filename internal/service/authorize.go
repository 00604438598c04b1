package service

import (
	"context"
	"fmt"
	"time"

	"github.com/weiawesome/wes-chat/internal/access"
	"github.com/weiawesome/wes-chat/internal/domain"
	"github.com/weiawesome/wes-chat/internal/repository"
)

// DefaultTimeout bounds each service call when none is configured.
const DefaultTimeout = 5 * time.Second

type authorizer struct {
	channels   repository.ChannelRepository
	workspaces repository.WorkspaceDirectory
}

func (a authorizer) actor(ctx context.Context, workspaceID, userID string) (access.Actor, error) {
	role, err := a.workspaces.Role(ctx, workspaceID, userID)
	if err != nil {
		return access.Actor{}, err
	}
	return access.Actor{UserID: userID, Role: role}, nil
}

// channel loads channelID and checks action for userID against it.
func (a authorizer) channel(ctx context.Context, userID, channelID string, action access.Action, target string) (*domain.Channel, access.Actor, error) {
	if channelID == "" {
		return nil, access.Actor{}, fmt.Errorf("%w: channel id is required", domain.ErrBadRequest)
	}
	ch, err := a.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, access.Actor{}, err
	}
	actor, err := a.actor(ctx, ch.WorkspaceID, userID)
	if err != nil {
		return nil, access.Actor{}, err
	}
	if err := access.CanAccess(actor, ch, action, target); err != nil {
		return nil, access.Actor{}, err
	}
	return ch, actor, nil
}

func (a authorizer) workspaceMember(ctx context.Context, userID, workspaceID string) error {
	if workspaceID == "" {
		return fmt.Errorf("%w: workspace id is required", domain.ErrBadRequest)
	}
	actor, err := a.actor(ctx, workspaceID, userID)
	if err != nil {
		return err
	}
	if !actor.Role.IsMember() {
		return fmt.Errorf("%w: not a member of workspace %s", domain.ErrAccessDenied, workspaceID)
	}
	return nil
}

func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
