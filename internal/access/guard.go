// Package access decides whether an actor may perform an action on a channel.
// Every function is pure: callers load the channel, the actor's workspace
// role and, where relevant, the message, and pass them in.
package access

import (
	"fmt"

	"github.com/weiawesome/wes-chat/internal/domain"
)

// Action is an operation guarded on a channel.
type Action string

const (
	ActionRead         Action = "read"
	ActionPost         Action = "post"
	ActionUpdate       Action = "update"
	ActionDelete       Action = "delete"
	ActionAddMember    Action = "add_member"
	ActionRemoveMember Action = "remove_member"
)

// Actor is the caller with its role in the channel's workspace.
type Actor struct {
	UserID string
	Role   domain.WorkspaceRole
}

func deny(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrAccessDenied}, args...)...)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{domain.ErrInvalidState}, args...)...)
}

// CanAccess returns nil when actor may perform action on ch. target is the
// user affected by member actions and is ignored otherwise.
func CanAccess(actor Actor, ch *domain.Channel, action Action, target string) error {
	if !actor.Role.IsMember() {
		return deny("not a member of workspace %s", ch.WorkspaceID)
	}

	isCreator := actor.UserID == ch.CreatorID
	isMember := ch.HasMember(actor.UserID)

	switch action {
	case ActionRead, ActionPost:
		if ch.Kind == domain.ChannelPublic || isMember {
			return nil
		}
		return deny("not a member of channel %s", ch.ID)

	case ActionUpdate:
		if ch.Kind == domain.ChannelDirect {
			return invalid("direct channels cannot be renamed")
		}
		if isCreator || actor.Role.IsAdmin() {
			return nil
		}
		return deny("only the creator or a workspace admin may change channel %s", ch.ID)

	case ActionDelete:
		if isCreator || actor.Role.IsAdmin() {
			return nil
		}
		return deny("only the creator or a workspace admin may delete channel %s", ch.ID)

	case ActionAddMember, ActionRemoveMember:
		return canChangeMembers(actor, ch, action, target, isCreator, isMember)
	}

	return deny("unknown action %q", action)
}

func canChangeMembers(actor Actor, ch *domain.Channel, action Action, target string, isCreator, isMember bool) error {
	if ch.Kind == domain.ChannelDirect {
		return invalid("direct channel membership is fixed at %d", domain.DirectMemberCount)
	}
	if target == "" {
		return fmt.Errorf("%w: target user is required", domain.ErrBadRequest)
	}
	if action == ActionRemoveMember && target == actor.UserID {
		return nil
	}

	if ch.Kind == domain.ChannelPublic {
		if isCreator || actor.Role.IsAdmin() {
			return nil
		}
		return deny("only the creator or a workspace admin may manage members of %s", ch.ID)
	}

	if action == ActionAddMember {
		if isMember {
			return nil
		}
		return deny("only members may add members to %s", ch.ID)
	}
	if isCreator {
		return nil
	}
	return deny("only the creator may remove other members from %s", ch.ID)
}

// CanCreate checks whether actor may create a channel of kind. Uniqueness of
// the public channel is enforced by the directory, not here.
func CanCreate(actor Actor, kind domain.ChannelKind) error {
	if !actor.Role.IsMember() {
		return deny("not a workspace member")
	}
	switch kind {
	case domain.ChannelPublic:
		if actor.Role.IsAdmin() {
			return nil
		}
		return deny("creating a public channel requires workspace admin or owner")
	case domain.ChannelPrivate:
		if actor.Role == domain.RoleGuest {
			return deny("guests cannot create channels")
		}
		return nil
	case domain.ChannelDirect:
		return nil
	}
	return fmt.Errorf("%w: unknown channel kind %q", domain.ErrBadRequest, kind)
}

// CanEditMessage allows only the original sender, and never on a deleted message.
func CanEditMessage(actor Actor, ch *domain.Channel, msg *domain.Message) error {
	if err := CanAccess(actor, ch, ActionRead, ""); err != nil {
		return err
	}
	if msg.SenderID != actor.UserID {
		return deny("only the sender may edit message %d", msg.ID)
	}
	if msg.IsDeleted {
		return invalid("message %d is deleted", msg.ID)
	}
	return nil
}

// CanDeleteMessage allows the sender or the channel creator.
func CanDeleteMessage(actor Actor, ch *domain.Channel, msg *domain.Message) error {
	if err := CanAccess(actor, ch, ActionRead, ""); err != nil {
		return err
	}
	if msg.SenderID != actor.UserID && ch.CreatorID != actor.UserID {
		return deny("only the sender or channel creator may delete message %d", msg.ID)
	}
	return nil
}
